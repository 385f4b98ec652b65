// Package fetch retrieves a contiguous message-id window as snapshots, using
// up to K sessions in parallel. Output is order-stable by id ascending.
package fetch

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"tgmirror/internal/session"
	"tgmirror/pkg/telegramapi"
)

const (
	// MaxBatchSize is the platform cap on ids per read call.
	MaxBatchSize = 200
	// batchPause spaces requests within one worker.
	batchPause = 100 * time.Millisecond
	// workerStagger offsets worker kickoffs so first bursts do not align.
	workerStagger = 200 * time.Millisecond
)

// Config tunes the fetcher. Zero values fall back to defaults.
type Config struct {
	BatchSize int
	// Stagger overrides the worker start offset, for tests.
	Stagger time.Duration
}

// Fetcher drives bulk message reads.
type Fetcher struct {
	cfg Config
}

// New creates a fetcher.
func New(cfg Config) *Fetcher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Stagger <= 0 {
		cfg.Stagger = workerStagger
	}
	return &Fetcher{cfg: cfg}
}

// Fetch reads [startID, endID] across the given sessions. Sub-ranges are
// disjoint so duplicates are impossible; missing ids produce no entries. The
// merged result is sorted by id.
func (f *Fetcher) Fetch(ctx context.Context, sessions []*session.Session, channel string, startID, endID int) ([]telegramapi.Message, error) {
	if len(sessions) == 0 || startID > endID {
		return nil, nil
	}

	ranges := splitRange(startID, endID, len(sessions))
	log.Printf("[Fetcher] fetching ids [%d, %d] across %d session(s)", startID, endID, len(sessions))

	var mu sync.Mutex
	var merged []telegramapi.Message

	g, gctx := errgroup.WithContext(ctx)
	for i, sess := range sessions {
		if i >= len(ranges) || len(ranges[i]) == 0 {
			continue
		}
		g.Go(func() error {
			if i > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(time.Duration(i) * f.cfg.Stagger):
				}
			}
			msgs := f.fetchRange(gctx, sess, channel, ranges[i])
			mu.Lock()
			merged = append(merged, msgs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	log.Printf("[Fetcher] fetched %d valid message(s)", len(merged))
	return merged, nil
}

// fetchRange reads one worker's ids in batches. Errors never escape the
// worker: a flood wait is slept and the batch retried exactly once, anything
// else logs and skips the batch.
func (f *Fetcher) fetchRange(ctx context.Context, sess *session.Session, channel string, ids []int) []telegramapi.Message {
	limiter := ratelimit.New(int(time.Second / batchPause))
	var out []telegramapi.Message

	for start := 0; start < len(ids); start += f.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + f.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		limiter.Take()
		msgs, err := sess.Client().GetMessages(ctx, channel, batch)
		if wait, ok := telegramapi.AsFloodWait(err); ok {
			log.Printf("[Fetcher %s] flood wait, sleeping %s", sess.Name(), wait)
			select {
			case <-ctx.Done():
				log.Printf("[Fetcher %s] canceled during flood wait, stopping", sess.Name())
				return out
			case <-time.After(wait):
			}
			msgs, err = sess.Client().GetMessages(ctx, channel, batch)
		}
		if err != nil {
			log.Printf("[Fetcher %s] batch %d-%d failed, skipping: %v", sess.Name(), batch[0], batch[len(batch)-1], err)
			continue
		}

		valid := msgs[:0:0]
		invalid := 0
		for _, m := range msgs {
			if m.Valid() {
				valid = append(valid, m)
			} else {
				invalid++
			}
		}
		if invalid > 0 {
			log.Printf("[Fetcher %s] %d invalid message(s) in batch %d-%d", sess.Name(), invalid, batch[0], batch[len(batch)-1])
		}
		out = append(out, valid...)
		sess.Counters.Fetched.Add(int64(len(valid)))
	}

	log.Printf("[Fetcher %s] done, %d valid message(s)", sess.Name(), len(out))
	return out
}

// splitRange divides [startID, endID] into n near-equal contiguous id lists;
// earlier sub-ranges absorb the remainder.
func splitRange(startID, endID, n int) [][]int {
	total := endID - startID + 1
	if n > total {
		n = total
	}
	per, rem := total/n, total%n

	ranges := make([][]int, 0, n)
	next := startID
	for i := 0; i < n; i++ {
		count := per
		if i < rem {
			count++
		}
		ids := make([]int, 0, count)
		for j := 0; j < count; j++ {
			ids = append(ids, next)
			next++
		}
		ranges = append(ranges, ids)
	}
	return ranges
}
