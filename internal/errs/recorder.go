package errs

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"tgmirror/internal/metrics"
)

const maxHistory = 100

// Recorder aggregates handled errors into per-category counters and a bounded
// recent-history buffer. One instance is passed through the call graph; there
// is no process-wide singleton.
type Recorder struct {
	mu      sync.Mutex
	counts  map[Category]int64
	byType  map[string]int64
	history []Record
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counts: make(map[Category]int64),
		byType: make(map[string]int64),
	}
}

// Record classifies err, stores a structured record and bumps counters.
// Errors at SeverityError and above are captured to sentry.
func (r *Recorder) Record(err error, severity Severity, context map[string]string) Record {
	cat := Classify(err)
	rec := Record{
		Type:            fmt.Sprintf("%T", err),
		Message:         err.Error(),
		Category:        cat,
		Severity:        severity,
		Timestamp:       time.Now(),
		Context:         context,
		SuggestedAction: suggestions[cat],
	}

	r.mu.Lock()
	r.counts[cat]++
	r.byType[rec.Type]++
	r.history = append(r.history, rec)
	if len(r.history) > maxHistory {
		r.history = r.history[len(r.history)-maxHistory:]
	}
	r.mu.Unlock()
	metrics.ErrorsTotal.WithLabelValues(string(cat)).Inc()

	if severity != SeverityWarning {
		sentry.CaptureException(err)
	}
	return rec
}

// Counts returns a copy of the per-category counters.
func (r *Recorder) Counts() map[Category]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Category]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Recent returns a copy of the bounded history, newest last.
func (r *Recorder) Recent() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.history))
	copy(out, r.history)
	return out
}

// LogSummary writes the per-category counters through the standard logger.
func (r *Recorder) LogSummary() {
	for cat, n := range r.Counts() {
		log.Printf("[Errors] %s: %d", cat, n)
	}
}
