package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tapi "github.com/mymmrac/telego/telegoapi"
	"golang.org/x/sync/semaphore"

	"tgmirror/internal/errs"
	"tgmirror/internal/metrics"
	"tgmirror/pkg/telegramapi"
)

// Start pins the context used by timer-driven flushes. Call once before the
// first Publish.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

func (p *Publisher) runCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// deliver fans one batch out to every target, bounded by the concurrency cap.
// A target that fails all attempts is recorded and skipped; the other targets
// still receive the batch. Scratch messages are cleaned up per config.
func (p *Publisher) deliver(ctx context.Context, batch *Batch) error {
	if len(batch.Items) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(p.cfg.FanoutConcurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, target := range p.targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(target telego.ChatID) {
			defer wg.Done()
			defer sem.Release(1)
			if err := p.sendToTarget(ctx, target, batch); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				p.bumpTargetFailure(target)
				p.recorder.Record(err, errs.SeverityError, map[string]string{
					"stage":  "fanout",
					"target": targetKey(target),
				})
			}
		}(target)
	}
	wg.Wait()

	allOK := failed == 0
	if allOK {
		p.batchesOK.Add(1)
		p.itemsPublished.Add(int64(len(batch.Items)))
		metrics.PublishesTotal.WithLabelValues("ok").Inc()
	} else {
		p.batchesFailed.Add(1)
		p.itemsFailed.Add(int64(len(batch.Items)))
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		log.Printf("[Publisher] batch of %d item(s) failed on %d of %d target(s)",
			len(batch.Items), failed, len(p.targets))
	}

	if (allOK && p.cfg.CleanupAfterSuccess) || (!allOK && p.cfg.CleanupAfterFailure) {
		p.deleteScratch(ctx, batch.Items)
	}
	if !allOK {
		return fmt.Errorf("batch failed on %d of %d target(s)", failed, len(p.targets))
	}
	return nil
}

// sendToTarget publishes one batch to one channel with the retry policy.
// Flood waits are honored exactly and do not consume an attempt.
func (p *Publisher) sendToTarget(ctx context.Context, target telego.ChatID, batch *Batch) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.Retries; {
		p.limiter.Take()
		var err error
		if len(batch.Items) == 1 {
			err = p.copySingle(ctx, target, batch.Items[0])
		} else {
			_, err = p.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
				ChatID: target,
				Media:  buildInputMedia(batch.Items),
			})
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := retryAfterOf(err); ok {
			log.Printf("[Publisher Target:%s] rate limited, waiting %s (attempt not consumed)", targetKey(target), wait)
			if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		attempt++
		if attempt >= p.cfg.Retries {
			break
		}
		log.Printf("[Publisher Target:%s] attempt %d failed: %v, retrying in %s",
			targetKey(target), attempt, err, p.cfg.RetryDelay)
		if sleepErr := sleepCtx(ctx, p.cfg.RetryDelay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("publish to %s failed after %d attempts: %w", targetKey(target), p.cfg.Retries, lastErr)
}

// copySingle republishes a one-item batch by copying the scratch message, so
// the rendered caption and media survive without a media-group wrapper.
func (p *Publisher) copySingle(ctx context.Context, target telego.ChatID, item *StagedItem) error {
	_, err := p.bot.CopyMessage(ctx, &telego.CopyMessageParams{
		ChatID:     target,
		FromChatID: p.scratch,
		MessageID:  item.ScratchMessageID,
	})
	return err
}

// buildInputMedia converts staged items into media-group entries by file id.
// Kinds without a dedicated album representation ride as documents.
func buildInputMedia(items []*StagedItem) []telego.InputMedia {
	out := make([]telego.InputMedia, 0, len(items))
	for _, it := range items {
		file := telego.InputFile{FileID: it.FileID}
		switch it.Kind {
		case telegramapi.KindPhoto:
			out = append(out, &telego.InputMediaPhoto{Type: telego.MediaTypePhoto, Media: file, Caption: it.Caption})
		case telegramapi.KindVideo, telegramapi.KindAnimation, telegramapi.KindVideoNote:
			out = append(out, &telego.InputMediaVideo{
				Type: telego.MediaTypeVideo, Media: file, Caption: it.Caption,
				Width: it.Width, Height: it.Height, Duration: it.Duration,
			})
		case telegramapi.KindAudio, telegramapi.KindVoice:
			out = append(out, &telego.InputMediaAudio{
				Type: telego.MediaTypeAudio, Media: file, Caption: it.Caption, Duration: it.Duration,
			})
		default:
			out = append(out, &telego.InputMediaDocument{Type: telego.MediaTypeDocument, Media: file, Caption: it.Caption})
		}
	}
	return out
}

// deleteScratch removes staged messages, falling back to per-message deletes
// when the bulk call fails. Cleanup failures only warn.
func (p *Publisher) deleteScratch(ctx context.Context, items []*StagedItem) {
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if it.ScratchMessageID != 0 {
			ids = append(ids, it.ScratchMessageID)
		}
	}
	if len(ids) == 0 {
		return
	}
	err := p.bot.DeleteMessages(ctx, &telego.DeleteMessagesParams{ChatID: p.scratch, MessageIDs: ids})
	if err == nil {
		return
	}
	log.Printf("[Publisher] bulk scratch cleanup failed (%v), deleting one by one", err)
	for _, id := range ids {
		if err := p.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: p.scratch, MessageID: id}); err != nil {
			log.Printf("[Publisher] failed to delete scratch message %d: %v", id, err)
		}
	}
}

var retryAfterPattern = regexp.MustCompile(`retry[_ ]after[: ]+(\d+)`)

// retryAfterOf extracts the flood-wait duration from an error, if any.
func retryAfterOf(err error) (time.Duration, bool) {
	if wait, ok := telegramapi.AsFloodWait(err); ok {
		return wait, true
	}
	var apiErr *tapi.Error
	if errors.As(err, &apiErr) && apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
		return time.Duration(apiErr.Parameters.RetryAfter) * time.Second, true
	}
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func targetKey(t telego.ChatID) string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ID, 10)
}

func (p *Publisher) bumpTargetFailure(target telego.ChatID) {
	key := targetKey(target)
	p.mu.Lock()
	if p.targetFailed == nil {
		p.targetFailed = make(map[string]int64)
	}
	p.targetFailed[key]++
	p.mu.Unlock()
}

// Self verifies the bot token by asking the platform who the bot is.
func (p *Publisher) Self(ctx context.Context) (*telego.User, error) {
	me, err := p.bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to identify bot: %w", err)
	}
	return me, nil
}

// Stats reports publish counters: items published and failed, batches
// delivered and failed.
func (p *Publisher) Stats() (published, failed, batchesOK, batchesFailed int64) {
	return p.itemsPublished.Load(), p.itemsFailed.Load(), p.batchesOK.Load(), p.batchesFailed.Load()
}

// TargetFailures returns per-target failure counts.
func (p *Publisher) TargetFailures() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.targetFailed))
	for k, v := range p.targetFailed {
		out[k] = v
	}
	return out
}
