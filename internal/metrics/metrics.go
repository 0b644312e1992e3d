// Package metrics exposes Prometheus counters for actions, undo, buffer
// refills and provider calls.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/inbox-sweep/internal/logger"
)

// Action metrics
var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_actions_total",
			Help: "Total number of triage actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	UnsubscribeMethodTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_unsubscribe_method_total",
			Help: "Successful unsubscribes by method",
		},
		[]string{"method", "fallback"},
	)

	UndoTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_undo_total",
			Help: "Undo attempts by result",
		},
		[]string{"result"},
	)

	UndoRecordsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_undo_records_current",
			Help: "Live undo records held in memory",
		},
	)
)

// Buffer metrics
var (
	RefillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_refills_total",
			Help: "Buffer refills by result",
		},
		[]string{"result"},
	)

	BufferPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_buffer_pending",
			Help: "Items waiting in the backing queue",
		},
	)
)

// Provider metrics
var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_provider_calls_total",
			Help: "Mail provider calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_provider_call_duration_seconds",
			Help:    "Latency of mail provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ObserveProviderCall records the status and latency of one provider call.
func ObserveProviderCall(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	ProviderCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Handler routes /metrics to the Prometheus registry and /healthz to a
// liveness probe.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr is a
// no-op.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
