// Package metrics exposes slipway's Prometheus instrumentation. Collection
// is always on; the HTTP endpoint only exists when a listen address is
// configured, since most invocations are short-lived CLI runs where only a
// long dev session benefits from scraping.
package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_builds_total",
		Help: "Image builds by stage and outcome.",
	}, []string{"stage", "status"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slipway_build_duration_seconds",
		Help:    "Wall clock time of image builds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	LastBuild = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slipway_last_build_timestamp_seconds",
		Help: "Unix time of the most recent successful build.",
	})

	WatchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_watch_events_total",
		Help: "Debounced source tree events by kind.",
	}, []string{"kind"})

	ContainersReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slipway_containers_replaced_total",
		Help: "Containers stopped and recreated during sessions.",
	})
)

// ObserveBuild records one build attempt.
func ObserveBuild(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	BuildsTotal.WithLabelValues(stage, status).Inc()
	if err == nil {
		BuildDuration.Observe(time.Since(start).Seconds())
		LastBuild.SetToCurrentTime()
	}
}

// Serve exposes /metrics and /healthz on addr in the background.
func Serve(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	go func() {
		logger.Info("Metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()
}
