package download

import (
	"context"
	"log"

	"golang.org/x/sync/semaphore"

	"tgmirror/internal/partition"
	"tgmirror/internal/session"
)

// SinkFunc receives finished items, e.g. the upload coordinator's enqueue.
type SinkFunc func(ctx context.Context, item *Item)

// Worker drains one session's assignment. Downloads within the session
// preserve submission order; the semaphore caps concurrency across all
// workers.
type Worker struct {
	downloader *Downloader
	sem        *semaphore.Weighted
}

// NewWorker creates a worker sharing the global concurrency cap.
func NewWorker(downloader *Downloader, sem *semaphore.Weighted) *Worker {
	return &Worker{downloader: downloader, sem: sem}
}

// Run processes every message of the assignment in order. Per-item failures
// never escape: they are recorded and the worker moves on. Returns the number
// of successfully handled items.
func (w *Worker) Run(ctx context.Context, sess *session.Session, assignment *partition.Assignment, folder string, sink SinkFunc) int {
	done := 0
	for _, g := range assignment.Groups {
		for _, msg := range g.Messages {
			if ctx.Err() != nil {
				log.Printf("[DownloadWorker %s] cancelled with %d item(s) done", sess.Name(), done)
				return done
			}
			if err := w.sem.Acquire(ctx, 1); err != nil {
				return done
			}
			item, err := w.downloader.Download(ctx, sess, msg, folder)
			w.sem.Release(1)
			if err != nil {
				log.Printf("[DownloadWorker %s] message %d failed: %v", sess.Name(), msg.ID, err)
				continue
			}
			if item == nil {
				// Pure-text message, nothing to download.
				continue
			}
			done++
			if sink != nil && !item.AlreadyPresent {
				sink(ctx, item)
			}
		}
	}
	log.Printf("[DownloadWorker %s] assignment complete: %d item(s)", sess.Name(), done)
	return done
}
