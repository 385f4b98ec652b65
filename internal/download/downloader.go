// Package download retrieves message media through one of two strategies:
// chunked raw reads for small non-video files, the platform streaming path
// for everything else.
package download

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"tgmirror/internal/errs"
	"tgmirror/internal/media"
	"tgmirror/internal/metrics"
	"tgmirror/internal/session"
	"tgmirror/internal/storage"
	"tgmirror/pkg/telegramapi"
)

const (
	// rawChunkSize is the platform maximum for one raw read.
	rawChunkSize = 1 << 20
	// progressInterval spaces progress events.
	progressInterval = 10 << 20
)

// Item is the product of one download: either on-disk or in-memory.
type Item struct {
	Message     telegramapi.Message
	SessionName string
	Kind        telegramapi.MediaKind

	// Path is set for on-disk items; Data and MD5 for in-memory items.
	Path string
	Data []byte
	MD5  string

	Size int64
	// AlreadyPresent marks items skipped because the file existed; no
	// platform read happened.
	AlreadyPresent bool
}

// FileName returns the basename the item was (or would be) stored under.
func (it *Item) FileName() string { return storage.FileName(it.Message) }

// ProgressFunc receives byte-progress events during a download.
type ProgressFunc func(sessionName string, messageID int, written int64)

// Config tunes the downloader.
type Config struct {
	// ThresholdBytes selects the raw path for smaller-than-threshold,
	// non-video media. Videos always stream.
	ThresholdBytes int64
	// MemoryMode keeps bytes in memory instead of writing files.
	MemoryMode bool
	OnProgress ProgressFunc
	// OnStrategy reports which path a download took, for the final report.
	OnStrategy func(raw bool)
}

// Downloader produces Items for messages using a borrowed session.
type Downloader struct {
	cfg      Config
	layout   *storage.Layout
	recorder *errs.Recorder
}

// New creates a downloader over the given layout.
func New(cfg Config, layout *storage.Layout, recorder *errs.Recorder) *Downloader {
	return &Downloader{cfg: cfg, layout: layout, recorder: recorder}
}

// Download retrieves the media of one message. Messages without media return
// (nil, nil). A file already present under the layout is skipped without any
// platform read and returned with AlreadyPresent set.
func (d *Downloader) Download(ctx context.Context, sess *session.Session, msg telegramapi.Message, folder string) (*Item, error) {
	if !msg.HasMedia() {
		return nil, nil
	}
	m := msg.Media

	item := &Item{Message: msg, SessionName: sess.Name(), Kind: m.Kind}

	if !d.cfg.MemoryMode {
		path, exists := d.layout.PathFor(folder, msg)
		if exists {
			log.Printf("[Downloader %s] message %d already present at %s, skipping", sess.Name(), msg.ID, path)
			fi, err := os.Stat(path)
			if err == nil {
				item.Size = fi.Size()
			}
			item.Path = path
			item.AlreadyPresent = true
			sess.Counters.Skipped.Add(1)
			metrics.DownloadsTotal.WithLabelValues(sess.Name(), "skipped").Inc()
			return item, nil
		}
		item.Path = path
	}

	estimated := media.Estimate(msg)
	useRaw := estimated < d.cfg.ThresholdBytes && m.Kind != telegramapi.KindVideo
	if d.cfg.OnStrategy != nil {
		d.cfg.OnStrategy(useRaw)
	}

	var err error
	if useRaw {
		err = d.downloadRaw(ctx, sess, msg, item)
	} else {
		err = d.downloadStream(ctx, sess, msg, item)
	}
	if err != nil {
		d.recorder.Record(err, errs.SeverityError, map[string]string{
			"session": sess.Name(),
			"message": fmt.Sprint(msg.ID),
		})
		sess.Counters.Failed.Add(1)
		metrics.DownloadsTotal.WithLabelValues(sess.Name(), "failed").Inc()
		return nil, err
	}

	d.verify(sess.Name(), msg, item)
	sess.Counters.Downloaded.Add(1)
	sess.Counters.Bytes.Add(item.Size)
	metrics.DownloadsTotal.WithLabelValues(sess.Name(), "ok").Inc()
	metrics.DownloadBytesTotal.WithLabelValues(sess.Name()).Add(float64(item.Size))
	return item, nil
}

// verify compares actual bytes against the declared size. The declared size
// is itself sometimes approximate, so a mismatch outside tolerance only
// warns; the artifact is kept.
func (d *Downloader) verify(sessionName string, msg telegramapi.Message, item *Item) {
	expected := msg.Media.Size
	if expected <= 0 {
		return
	}
	tolerance := expected / 100
	if tolerance < 1<<10 {
		tolerance = 1 << 10
	}
	diff := item.Size - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		log.Printf("[Downloader %s] message %d size mismatch: got %d, expected %d (tolerance %d)",
			sessionName, msg.ID, item.Size, expected, tolerance)
	}
}

// finishMemory seals an in-memory item.
func finishMemory(item *Item, buf *bytes.Buffer) {
	item.Data = buf.Bytes()
	item.Size = int64(len(item.Data))
	sum := md5.Sum(item.Data)
	item.MD5 = hex.EncodeToString(sum[:])
}
