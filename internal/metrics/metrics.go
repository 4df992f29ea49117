// Package metrics exposes Prometheus collectors for the monitor and the alert
// loop.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds all collectors. It satisfies solana.Observer and
// service.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Monitor metrics
	Reconnects      prometheus.Counter
	Sessions        prometheus.Counter
	LogEvents       *prometheus.CounterVec
	HandlerFailures prometheus.Counter

	// Alert loop metrics
	Ticks          *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	AlertsFired    prometheus.Counter
	NotifyFailures prometheus.Counter
}

// New registers every collector on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mintwatch"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reconnects_total",
			Help:      "Number of times the log subscription was re-established after a failure",
		}),
		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "subscriptions_total",
			Help:      "Number of acknowledged logsSubscribe subscriptions",
		}),
		LogEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "log_events_total",
			Help:      "Log notifications received by classification",
		}, []string{"kind"}),
		HandlerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "handler_failures_total",
			Help:      "Transfer handler errors and panics",
		}),

		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "ticks_total",
			Help:      "Alert evaluation ticks by status",
		}, []string{"status"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "tick_duration_seconds",
			Help:      "Alert evaluation tick duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AlertsFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Price alerts whose condition was met",
		}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "notify_failures_total",
			Help:      "Alert notifications that could not be delivered",
		}),
	}
}

func (m *Metrics) Reconnecting()         { m.Reconnects.Inc() }
func (m *Metrics) Subscribed()           { m.Sessions.Inc() }
func (m *Metrics) LogEvent(kind string)  { m.LogEvents.WithLabelValues(kind).Inc() }
func (m *Metrics) HandlerFailed()        { m.HandlerFailures.Inc() }
func (m *Metrics) AlertsTriggered(n int) { m.AlertsFired.Add(float64(n)) }
func (m *Metrics) NotifyFailed()         { m.NotifyFailures.Inc() }

func (m *Metrics) ObserveTick(d time.Duration, err error) {
	m.TickDuration.Observe(d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Ticks.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log := logger.With().Str("component", "metrics").Logger()
	log.Info().Str("addr", addr).Msg("metrics server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
