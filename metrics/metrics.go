// Package metrics holds the Prometheus instruments for the transcriber. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	CommandsReceived    *prometheus.CounterVec
	RecognitionOutcomes *prometheus.CounterVec
	IterationErrors     prometheus.Counter
	Listening           prometheus.Gauge
	ListenDuration      prometheus.Histogram
	RecognizeDuration   prometheus.Histogram
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micstt_commands_received_total",
			Help: "Controller commands received, by kind",
		}, []string{"command"}),
		RecognitionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "micstt_recognition_outcomes_total",
			Help: "Capture and recognize attempts, by outcome",
		}, []string{"outcome"}),
		IterationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "micstt_iteration_errors_total",
			Help: "Supervisor iterations that failed outside the recognition outcomes",
		}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Name: "micstt_listening",
			Help: "1 while audio is being captured, 0 when idle",
		}),
		ListenDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micstt_listen_duration_seconds",
			Help:    "Time spent waiting for and capturing one utterance",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15, 20, 30},
		}),
		RecognizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "micstt_recognize_duration_seconds",
			Help:    "Latency of the recognition backend",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) CommandReceived(kind string) {
	if m == nil {
		return
	}
	m.CommandsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.RecognitionOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IterationError() {
	if m == nil {
		return
	}
	m.IterationErrors.Inc()
}

func (m *Metrics) SetListening(active bool) {
	if m == nil {
		return
	}
	if active {
		m.Listening.Set(1)
	} else {
		m.Listening.Set(0)
	}
}

func (m *Metrics) ObserveListen(d time.Duration) {
	if m == nil {
		return
	}
	m.ListenDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRecognize(d time.Duration) {
	if m == nil {
		return
	}
	m.RecognizeDuration.Observe(d.Seconds())
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}()

	logger.Info("metrics server listening", slog.String("address", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
