package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"tgmirror/internal/errs"
	"tgmirror/internal/session"
	"tgmirror/internal/storage"
	"tgmirror/pkg/telegramapi"
)

// downloadRaw reads the file in 1 MiB chunks through the raw file API.
// Cross-datacenter raw reads are unsupported: in memory mode that is a guard
// failure, on disk the streaming path takes over (it handles DC migration).
func (d *Downloader) downloadRaw(ctx context.Context, sess *session.Session, msg telegramapi.Message, item *Item) error {
	handle := msg.Media.Handle

	currentDC, err := sess.Client().CurrentDC(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current datacenter: %w", err)
	}
	if handle.DCID != 0 && handle.DCID != currentDC {
		if d.cfg.MemoryMode {
			return errs.Business(fmt.Sprintf(
				"message %d: file lives on DC %d, session %s is on DC %d; cross-DC raw read unsupported in memory mode",
				msg.ID, handle.DCID, sess.Name(), currentDC))
		}
		log.Printf("[Downloader %s] message %d on DC %d (session on %d), delegating to stream path",
			sess.Name(), msg.ID, handle.DCID, currentDC)
		return d.downloadStream(ctx, sess, msg, item)
	}

	if d.cfg.MemoryMode {
		var buf bytes.Buffer
		if err := d.rawLoop(ctx, sess, msg, &buf); err != nil {
			return err
		}
		finishMemory(item, &buf)
		return nil
	}

	tmp := storage.TempPath(item.Path)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := d.rawLoop(ctx, sess, msg, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return d.promote(tmp, item)
}

// rawLoop requests chunks at increasing offsets until the server returns an
// empty payload or the declared size is reached.
func (d *Downloader) rawLoop(ctx context.Context, sess *session.Session, msg telegramapi.Message, w io.Writer) error {
	expected := msg.Media.Size
	handle := msg.Media.Handle

	var offset int64
	var lastReport int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chunk, err := sess.Client().GetFileChunk(ctx, handle, offset, rawChunkSize)
		if err != nil {
			return fmt.Errorf("raw read at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("write at offset %d: %w", offset, err)
		}
		offset += int64(len(chunk))

		if d.cfg.OnProgress != nil && offset-lastReport >= progressInterval {
			lastReport = offset
			d.cfg.OnProgress(sess.Name(), msg.ID, offset)
		}
		if expected > 0 && offset >= expected {
			return nil
		}
	}
}

// downloadStream consumes the platform streaming iterator.
func (d *Downloader) downloadStream(ctx context.Context, sess *session.Session, msg telegramapi.Message, item *Item) error {
	if d.cfg.MemoryMode {
		var buf bytes.Buffer
		if err := d.streamTo(ctx, sess, msg, &buf); err != nil {
			return err
		}
		finishMemory(item, &buf)
		return nil
	}

	tmp := storage.TempPath(item.Path)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := d.streamTo(ctx, sess, msg, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return d.promote(tmp, item)
}

func (d *Downloader) streamTo(ctx context.Context, sess *session.Session, msg telegramapi.Message, w io.Writer) error {
	pw := &telegramapi.ProgressWriter{
		W:        w,
		Interval: progressInterval,
		OnChunk: func(written int64) {
			if d.cfg.OnProgress != nil {
				d.cfg.OnProgress(sess.Name(), msg.ID, written)
			}
		},
	}
	if _, err := sess.Client().StreamMedia(ctx, msg, pw); err != nil {
		return fmt.Errorf("stream download of message %d: %w", msg.ID, err)
	}
	return nil
}

// promote moves the finished temp file into place. Zero-byte artifacts are
// never left behind.
func (d *Downloader) promote(tmp string, item *Item) error {
	fi, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to stat temp file: %w", err)
	}
	if fi.Size() == 0 {
		os.Remove(tmp)
		return fmt.Errorf("download produced an empty file")
	}
	if err := os.Rename(tmp, item.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	item.Size = fi.Size()
	return nil
}
