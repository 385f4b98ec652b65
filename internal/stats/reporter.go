package stats

import (
	"context"
	"log"
	"time"
)

// reportInterval spaces periodic progress lines.
const reportInterval = 10 * time.Second

// Reporter logs a progress summary on a fixed cadence while the pipeline runs.
type Reporter struct {
	collector *Collector
	pub       PublishStatsFunc
	stop      chan struct{}
	done      chan struct{}
}

// NewReporter wires a reporter over the collector; pub may be nil when
// publishing is disabled.
func NewReporter(collector *Collector, pub PublishStatsFunc) *Reporter {
	return &Reporter{
		collector: collector,
		pub:       pub,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the ticker loop.
func (r *Reporter) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.logProgress()
			}
		}
	}()
}

// Stop ends the ticker loop and waits for it to finish.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reporter) logProgress() {
	s := r.collector.Snapshot(r.pub)
	processed := s.Downloaded + s.Skipped
	pct := 0.0
	if s.Fetched > 0 {
		pct = float64(processed) / float64(s.Fetched) * 100
	}
	log.Printf("[Stats] progress %d/%d (%.0f%%), %d failed, %s, %.1f Mbit/s",
		processed, s.Fetched, pct, s.Failed, FormatBytes(s.Bytes), s.ThroughputMbps())
}
