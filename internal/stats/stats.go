// Package stats aggregates run counters and turns the final tally into the
// process exit code.
package stats

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tgmirror/internal/session"
)

// Exit codes reflect how much of the run succeeded.
const (
	ExitOK        = 0   // at least 95% of items processed
	ExitDegraded  = 1   // between 80% and 95%
	ExitFailed    = 2   // below 80%
	ExitInterrupt = 130 // stopped by signal
)

// Collector accumulates pipeline-wide counters. Per-session counters live on
// the sessions themselves; the collector holds what no single session owns.
type Collector struct {
	start time.Time

	TotalRequested atomic.Int64
	FetchedValid   atomic.Int64
	RawDownloads   atomic.Int64
	StreamDowns    atomic.Int64

	mu       sync.Mutex
	sessions []*session.Session
}

// NewCollector starts the run clock.
func NewCollector() *Collector {
	return &Collector{start: time.Now()}
}

// Track registers sessions whose counters roll into the totals.
func (c *Collector) Track(sessions []*session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sessions...)
}

// Snapshot is one point-in-time view of the run.
type Snapshot struct {
	Elapsed    time.Duration
	Requested  int64
	Fetched    int64
	Downloaded int64
	Skipped    int64
	Failed     int64
	Bytes      int64
	Published  int64
	PubFailed  int64
	Dropped    int64
}

// PublishStatsFunc supplies publish-side counters when publishing is enabled.
type PublishStatsFunc func() (published, failed, dropped int64)

// Snapshot sums session counters into a run-wide view.
func (c *Collector) Snapshot(pub PublishStatsFunc) Snapshot {
	s := Snapshot{
		Elapsed:   time.Since(c.start),
		Requested: c.TotalRequested.Load(),
		Fetched:   c.FetchedValid.Load(),
	}
	c.mu.Lock()
	for _, sess := range c.sessions {
		s.Downloaded += sess.Counters.Downloaded.Load()
		s.Skipped += sess.Counters.Skipped.Load()
		s.Failed += sess.Counters.Failed.Load()
		s.Bytes += sess.Counters.Bytes.Load()
	}
	c.mu.Unlock()
	if pub != nil {
		s.Published, s.PubFailed, s.Dropped = pub()
	}
	return s
}

// SuccessRatio is downloaded-or-skipped over targeted files. A run that
// targeted nothing is a vacuous success.
func (s Snapshot) SuccessRatio() float64 {
	attempted := s.Downloaded + s.Skipped + s.Failed
	if attempted == 0 {
		return 1
	}
	return float64(s.Downloaded+s.Skipped) / float64(attempted)
}

// PublishImpaired reports whether any downloaded item missed a publish
// target or was dropped before reaching the publisher.
func (s Snapshot) PublishImpaired() bool {
	return s.PubFailed > 0 || s.Dropped > 0
}

// ThroughputMbps is the average download rate over the run.
func (s Snapshot) ThroughputMbps() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / 1e6 / secs
}

// ExitCode maps the final snapshot onto the exit ladder. The ladder follows
// the download ratio; publish-side failures turn an otherwise clean run into
// a partial one, they never report full success.
func ExitCode(s Snapshot, interrupted bool) int {
	if interrupted {
		return ExitInterrupt
	}
	switch ratio := s.SuccessRatio(); {
	case ratio < 0.80:
		return ExitFailed
	case ratio < 0.95:
		return ExitDegraded
	case s.PublishImpaired():
		return ExitDegraded
	default:
		return ExitOK
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// LogFinal prints the end-of-run report: totals, per-session breakdown and
// average throughput.
func (c *Collector) LogFinal(pub PublishStatsFunc) Snapshot {
	s := c.Snapshot(pub)
	log.Printf("[Stats] run complete in %s: %d requested, %d fetched, %d downloaded, %d skipped, %d failed, %s (%.1f Mbit/s avg)",
		s.Elapsed.Round(time.Second), s.Requested, s.Fetched, s.Downloaded, s.Skipped, s.Failed,
		FormatBytes(s.Bytes), s.ThroughputMbps())
	if raw, stream := c.RawDownloads.Load(), c.StreamDowns.Load(); raw+stream > 0 {
		log.Printf("[Stats] strategy split: %d raw, %d streamed", raw, stream)
	}
	if pub != nil {
		log.Printf("[Stats] publishing: %d published, %d failed, %d dropped", s.Published, s.PubFailed, s.Dropped)
	}
	c.mu.Lock()
	for _, sess := range c.sessions {
		log.Printf("[Stats Session:%s] downloaded=%d skipped=%d failed=%d bytes=%s",
			sess.Name(), sess.Counters.Downloaded.Load(), sess.Counters.Skipped.Load(),
			sess.Counters.Failed.Load(), FormatBytes(sess.Counters.Bytes.Load()))
	}
	c.mu.Unlock()
	return s
}
