// Package telemetry exposes Prometheus metrics for the preprocessing run.
// Exposure is optional; collectors are always registered so tests and
// library users can observe them without the HTTP listener.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubjectsTotal counts finished subjects by outcome
	// (succeeded, skipped, failed).
	SubjectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxprep_subjects_total",
		Help: "Subjects finished, by outcome.",
	}, []string{"outcome"})

	// InflightSubjects tracks subjects currently being processed.
	InflightSubjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxprep_inflight_subjects",
		Help: "Subjects currently in flight.",
	})

	// StageDuration observes per-stage transform latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxprep_stage_duration_seconds",
		Help:    "Wall time per transform stage.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})
)

// ObserveStage records one stage execution.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Server serves /metrics until stopped.
type Server struct {
	srv *http.Server
}

// Expose starts the metrics listener on port. Port 0 disables exposure and
// returns nil; Stop on a nil server is a no-op.
func Expose(port int) *Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}}
	go func() { _ = s.srv.ListenAndServe() }()
	return s
}

// Stop shuts the listener down, waiting for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
