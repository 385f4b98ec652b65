// Package publish implements the staged publishing pipeline: scratch-upload
// each downloaded item through the kind-specific send method, assemble
// publish-ready batches, fan out to every target channel, then clean up the
// scratch messages.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tapi "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/ratelimit"

	"tgmirror/internal/download"
	"tgmirror/internal/errs"
	"tgmirror/internal/media"
	"tgmirror/internal/template"
	"tgmirror/pkg/telegoapi"
	"tgmirror/pkg/telegramapi"
)

// StagedItem is a downloaded item after the scratch upload: the platform has
// issued a file handle reusable for fan-out without re-uploading bytes.
type StagedItem struct {
	OriginalID       int
	ScratchMessageID int
	FileID           string
	Kind             telegramapi.MediaKind
	Caption          string
	Width            int
	Height           int
	Duration         int
	GroupID          string
}

// Config tunes the publisher.
type Config struct {
	ScratchChatID int64
	Targets       []string

	// PreserveStructure publishes one batch per original media group,
	// never splitting or merging. Off, items pack by kind family.
	PreserveStructure bool
	BatchSize         int
	StaleFlush        time.Duration

	FanoutConcurrency int
	Retries           int
	RetryDelay        time.Duration

	CleanupAfterSuccess bool
	CleanupAfterFailure bool

	// CaptionLimit depends on account tier: 4096 for premium, 1024 otherwise.
	CaptionLimit int

	Template template.Config
}

// DefaultStaleFlush is how long a partial legacy batch waits before being
// flushed anyway.
const DefaultStaleFlush = 300 * time.Second

// Publisher runs the stage/assemble/fanout/cleanup sub-stages.
type Publisher struct {
	bot      telegoapi.BotAPI
	cfg      Config
	scratch  telego.ChatID
	targets  []telego.ChatID
	engine   *template.Engine
	recorder *errs.Recorder
	limiter  ratelimit.Limiter

	mu           sync.Mutex
	ctx          context.Context
	expected     map[string]int
	buffers      map[string]*groupBuffer
	failedGroups map[string]bool
	classBatches map[media.AlbumClass]*pendingBatch
	targetFailed map[string]int64

	itemsPublished atomic.Int64
	itemsFailed    atomic.Int64
	batchesOK      atomic.Int64
	batchesFailed  atomic.Int64
}

// New creates a publisher. The caption limit and targets must already be
// resolved by the caller.
func New(bot telegoapi.BotAPI, cfg Config, engine *template.Engine, recorder *errs.Recorder) (*Publisher, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("publisher: no target channels configured")
	}
	if err := cfg.Template.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > MaxBatchItems {
		cfg.BatchSize = MaxBatchItems
	}
	if cfg.StaleFlush <= 0 {
		cfg.StaleFlush = DefaultStaleFlush
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 3
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = 1024
	}

	targets := make([]telego.ChatID, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, chatID(t))
	}

	return &Publisher{
		bot:          bot,
		cfg:          cfg,
		scratch:      telego.ChatID{ID: cfg.ScratchChatID},
		targets:      targets,
		engine:       engine,
		recorder:     recorder,
		limiter:      ratelimit.New(20),
		expected:     make(map[string]int),
		buffers:      make(map[string]*groupBuffer),
		failedGroups: make(map[string]bool),
		classBatches: make(map[media.AlbumClass]*pendingBatch),
	}, nil
}

// SetExpectedGroupSizes tells the structure-preserving assembler how many
// members each original group has, so a batch is released exactly when its
// group is complete.
func (p *Publisher) SetExpectedGroupSizes(sizes map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range sizes {
		p.expected[k] = v
	}
}

// Publish is the upload-coordinator handler: stage one downloaded item,
// then run any batch that became ready.
func (p *Publisher) Publish(ctx context.Context, item *download.Item) error {
	gid := item.Message.MediaGroupID

	if p.cfg.PreserveStructure && gid != "" && p.groupFailed(gid) {
		p.itemsFailed.Add(1)
		return errs.Business(fmt.Sprintf("group %s already aborted, skipping message %d", gid, item.Message.ID))
	}

	caption := p.renderCaption(item)

	staged, err := p.stage(ctx, item, caption)
	if err != nil {
		p.itemsFailed.Add(1)
		p.recorder.Record(err, errs.SeverityError, map[string]string{
			"stage":   "scratch-upload",
			"message": fmt.Sprint(item.Message.ID),
		})
		if p.cfg.PreserveStructure && gid != "" {
			p.abortGroup(ctx, gid, item.Message.ID)
		}
		return err
	}

	batch := p.addToBatch(staged)
	if batch == nil {
		return nil
	}
	return p.deliver(ctx, batch)
}

// renderCaption runs the template engine and applies the tier cap. Kinds
// whose send method rejects captions drop it silently.
func (p *Publisher) renderCaption(item *download.Item) string {
	if !media.Lookup(item.Kind).SupportsCaption {
		return ""
	}
	rendered, err := p.engine.Render(p.cfg.Template, template.Item{
		OriginalText:    item.Message.Text,
		OriginalCaption: item.Message.Caption,
		FileName:        item.FileName(),
		FileSize:        item.Size,
		MessageID:       item.Message.ID,
		ClientName:      item.SessionName,
	}, nil)
	if err != nil {
		log.Printf("[Publisher] caption render failed for message %d, using original: %v", item.Message.ID, err)
		rendered = item.Message.Caption
	}
	return TruncateCaption(rendered, p.cfg.CaptionLimit)
}

// TruncateCaption enforces the per-tier caption cap: over-length captions are
// cut to cap-3 characters and suffixed with "...".
func TruncateCaption(caption string, limit int) string {
	runes := []rune(caption)
	if len(runes) <= limit {
		return caption
	}
	return string(runes[:limit-3]) + "..."
}

// stage sends the item to the scratch chat with the kind-specific method and
// captures the returned message id and file handle.
func (p *Publisher) stage(ctx context.Context, item *download.Item, caption string) (*StagedItem, error) {
	file, cleanup, err := inputFile(item)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	m := item.Message.Media
	staged := &StagedItem{
		OriginalID: item.Message.ID,
		Kind:       item.Kind,
		Caption:    caption,
		GroupID:    item.Message.MediaGroupID,
	}
	if m != nil {
		staged.Width, staged.Height, staged.Duration = m.Width, m.Height, m.Duration
	}

	p.limiter.Take()
	var sent *telego.Message
	switch item.Kind {
	case telegramapi.KindPhoto:
		sent, err = p.bot.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: p.scratch, Photo: file, Caption: caption})
		if err == nil {
			staged.FileID = largestPhotoID(sent.Photo)
		}
	case telegramapi.KindVideo:
		sent, err = p.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID: p.scratch, Video: file, Caption: caption,
			Width: staged.Width, Height: staged.Height, Duration: staged.Duration,
		})
		if err == nil && sent.Video != nil {
			staged.FileID = sent.Video.FileID
		}
	case telegramapi.KindAudio:
		sent, err = p.bot.SendAudio(ctx, &telego.SendAudioParams{ChatID: p.scratch, Audio: file, Caption: caption, Duration: staged.Duration})
		if err == nil && sent.Audio != nil {
			staged.FileID = sent.Audio.FileID
		}
	case telegramapi.KindVoice:
		sent, err = p.bot.SendVoice(ctx, &telego.SendVoiceParams{ChatID: p.scratch, Voice: file, Duration: staged.Duration})
		if err == nil && sent.Voice != nil {
			staged.FileID = sent.Voice.FileID
		}
	case telegramapi.KindVideoNote:
		sent, err = p.bot.SendVideoNote(ctx, &telego.SendVideoNoteParams{ChatID: p.scratch, VideoNote: file})
		if err == nil && sent.VideoNote != nil {
			staged.FileID = sent.VideoNote.FileID
		}
	case telegramapi.KindAnimation:
		sent, err = p.bot.SendAnimation(ctx, &telego.SendAnimationParams{ChatID: p.scratch, Animation: file, Caption: caption})
		if err == nil && sent.Animation != nil {
			staged.FileID = sent.Animation.FileID
		}
	case telegramapi.KindSticker:
		sent, err = p.bot.SendSticker(ctx, &telego.SendStickerParams{ChatID: p.scratch, Sticker: file})
		if err == nil && sent.Sticker != nil {
			staged.FileID = sent.Sticker.FileID
		}
	default:
		sent, err = p.bot.SendDocument(ctx, &telego.SendDocumentParams{ChatID: p.scratch, Document: file, Caption: caption})
		if err == nil && sent.Document != nil {
			staged.FileID = sent.Document.FileID
		}
	}
	if err != nil {
		return nil, fmt.Errorf("scratch upload of message %d failed: %w", item.Message.ID, err)
	}
	if staged.FileID == "" {
		return nil, fmt.Errorf("scratch upload of message %d returned no file handle", item.Message.ID)
	}
	staged.ScratchMessageID = sent.MessageID
	log.Printf("[Publisher] staged message %d as scratch message %d (%s)", item.Message.ID, sent.MessageID, item.Kind)
	return staged, nil
}

// inputFile wraps the item's bytes or on-disk file for a telego upload.
func inputFile(item *download.Item) (telego.InputFile, func(), error) {
	if item.Data != nil {
		reader := tu.NameReader(bytes.NewReader(item.Data), item.FileName())
		return tu.File(reader), func() {}, nil
	}
	f, err := os.Open(item.Path)
	if err != nil {
		return telego.InputFile{}, func() {}, fmt.Errorf("failed to open %s: %w", item.Path, err)
	}
	var named tapi.NamedReader = tu.NameReader(f, filepath.Base(item.Path))
	return tu.File(named), func() { f.Close() }, nil
}

// largestPhotoID picks the best-quality size of a staged photo.
func largestPhotoID(sizes []telego.PhotoSize) string {
	if len(sizes) == 0 {
		return ""
	}
	best := sizes[0]
	for _, s := range sizes {
		if s.FileSize > best.FileSize {
			best = s
		}
	}
	return best.FileID
}

func (p *Publisher) groupFailed(gid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedGroups[gid]
}

// abortGroup drops everything buffered for a group whose member failed at
// scratch-upload: zero messages from that group may reach any target.
func (p *Publisher) abortGroup(ctx context.Context, gid string, failedMessageID int) {
	p.mu.Lock()
	p.failedGroups[gid] = true
	buf := p.buffers[gid]
	delete(p.buffers, gid)
	p.mu.Unlock()

	if buf == nil {
		log.Printf("[Publisher Group:%s] aborted after message %d failed staging", gid, failedMessageID)
		return
	}
	log.Printf("[Publisher Group:%s] aborted after message %d failed staging, discarding %d staged sibling(s)",
		gid, failedMessageID, len(buf.items))
	p.itemsFailed.Add(int64(len(buf.items)))
	if p.cfg.CleanupAfterFailure {
		p.deleteScratch(ctx, buf.items)
	}
}

func chatID(s string) telego.ChatID {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err == nil && fmt.Sprint(id) == s {
		return telego.ChatID{ID: id}
	}
	if s != "" && s[0] != '@' {
		s = "@" + s
	}
	return telego.ChatID{Username: s}
}
