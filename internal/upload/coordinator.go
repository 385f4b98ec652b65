// Package upload decouples download completion from publishing through a
// bounded FIFO queue, enabling true download/publish concurrency.
package upload

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tgmirror/internal/download"
)

const (
	// DefaultQueueSize bounds the work queue.
	DefaultQueueSize = 1000
	// DefaultConsumers is the number of consumer workers.
	DefaultConsumers = 1

	enqueueTimeout = time.Second
	pollTimeout    = 500 * time.Millisecond
	drainTimeout   = 30 * time.Second
	cancelTimeout  = 10 * time.Second
)

// Task is one queued unit of publish work.
type Task struct {
	Item       *download.Item
	EnqueuedAt time.Time
}

// Handler consumes one task, typically the staged publisher.
type Handler func(ctx context.Context, task *Task) error

// Coordinator owns the queue and its consumer workers. Ordering is
// best-effort FIFO within one producer session, not guaranteed across
// sessions.
type Coordinator struct {
	queue    chan *Task
	handler  Handler
	workers  int
	shutdown atomic.Bool

	enqueued  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a coordinator with the given queue capacity and worker count;
// zero values fall back to defaults.
func New(queueSize, workers int, handler Handler) *Coordinator {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultConsumers
	}
	return &Coordinator{
		queue:   make(chan *Task, queueSize),
		handler: handler,
		workers: workers,
	}
}

// Start launches the consumer workers.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.consume(runCtx, i)
	}
	log.Printf("[UploadCoordinator] started %d consumer(s), queue capacity %d", c.workers, cap(c.queue))
}

// Enqueue hands a finished download to the publish side. It waits at most one
// second; on timeout the item is logged and dropped so the download pipeline
// never blocks.
func (c *Coordinator) Enqueue(ctx context.Context, item *download.Item) {
	if c.shutdown.Load() {
		log.Printf("[UploadCoordinator] shutting down, dropping message %d", item.Message.ID)
		c.dropped.Add(1)
		return
	}
	task := &Task{Item: item, EnqueuedAt: time.Now()}

	t := time.NewTimer(enqueueTimeout)
	defer t.Stop()
	select {
	case c.queue <- task:
		c.enqueued.Add(1)
	case <-t.C:
		log.Printf("[UploadCoordinator] queue full, dropping message %d", item.Message.ID)
		c.dropped.Add(1)
	case <-ctx.Done():
		c.dropped.Add(1)
	}
}

func (c *Coordinator) consume(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-c.queue:
			if task == nil {
				// Shutdown sentinel.
				return
			}
			if err := c.handler(ctx, task); err != nil {
				c.failed.Add(1)
				log.Printf("[UploadConsumer #%d] message %d failed: %v", id, task.Item.Message.ID, err)
			}
			c.processed.Add(1)
		case <-time.After(pollTimeout):
			// Poll cycle: re-check cancellation and shutdown.
			if c.shutdown.Load() && len(c.queue) == 0 {
				return
			}
		}
	}
}

// Shutdown flips the shutdown flag, waits for the queue to drain (bounded),
// wakes consumers with sentinels and finally cancels stragglers. On return,
// every enqueued item was either processed or logged as dropped.
func (c *Coordinator) Shutdown() {
	c.shutdown.Store(true)

	deadline := time.Now().Add(drainTimeout)
	for len(c.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(pollTimeout)
	}
	if remaining := len(c.queue); remaining > 0 {
		log.Printf("[UploadCoordinator] drain timed out with %d item(s) still queued", remaining)
		c.dropped.Add(int64(remaining))
	}

	for i := 0; i < c.workers; i++ {
		select {
		case c.queue <- nil:
		default:
		}
	}

	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(cancelTimeout):
		log.Printf("[UploadCoordinator] consumers did not stop in %s, cancelling", cancelTimeout)
		if c.cancel != nil {
			c.cancel()
		}
		<-done
	}
	log.Printf("[UploadCoordinator] shut down: %d enqueued, %d processed, %d dropped, %d failed",
		c.enqueued.Load(), c.processed.Load(), c.dropped.Load(), c.failed.Load())
}

// Stats reports queue counters: enqueued, processed, dropped, failed.
func (c *Coordinator) Stats() (enqueued, processed, dropped, failed int64) {
	return c.enqueued.Load(), c.processed.Load(), c.dropped.Load(), c.failed.Load()
}

// Depth returns the current queue length.
func (c *Coordinator) Depth() int { return len(c.queue) }
