// Package metrics exposes pipeline counters over Prometheus. The listener is
// optional and only started when an address is configured.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgmirror_downloads_total",
		Help: "Downloads by session and outcome (ok, skipped, failed).",
	}, []string{"session", "outcome"})

	DownloadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgmirror_download_bytes_total",
		Help: "Bytes downloaded by session.",
	}, []string{"session"})

	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgmirror_publishes_total",
		Help: "Published batches by outcome (ok, failed).",
	}, []string{"outcome"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgmirror_errors_total",
		Help: "Errors by category.",
	}, []string{"category"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tgmirror_upload_queue_depth",
		Help: "Items waiting in the upload queue.",
	})
)

// Server is the optional /metrics listener.
type Server struct {
	srv *http.Server
}

// Start serves /metrics on addr in the background.
func Start(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Addr: addr, Handler: mux}}
	go func() {
		log.Printf("[Metrics] listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Metrics] listener failed: %v", err)
		}
	}()
	return s
}

// Stop shuts the listener down with a short grace period.
func (s *Server) Stop() {
	if s == nil || s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("[Metrics] shutdown: %v", err)
	}
}
