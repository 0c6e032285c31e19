// Package metrics exposes the R/G/S cores' counters and gauges over HTTP
// for Prometheus scraping.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Exporter owns the Prometheus registry and HTTP exposition server.
type Exporter struct {
	logger   *zap.Logger
	config   Config
	server   *http.Server
	registry *prometheus.Registry

	hashrate     *prometheus.GaugeVec
	merit        prometheus.Histogram
	sharesTotal  *prometheus.CounterVec
	blocksFound  prometheus.Counter
	activeClients prometheus.Gauge
	sieveCycles  prometheus.Counter
}

// Config defines the exporter's listen address and namespace.
type Config struct {
	Enabled     bool
	ListenAddr  string
	MetricsPath string
	Namespace   string
}

// New creates a new metrics exporter.
func New(logger *zap.Logger, config Config) *Exporter {
	if config.ListenAddr == "" {
		config.ListenAddr = ":9090"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "wattx"
	}

	registry := prometheus.NewRegistry()

	e := &Exporter{
		logger:   logger,
		config:   config,
		registry: registry,
	}
	e.initializeMetrics()

	return e
}

// Start runs the HTTP exposition server until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.config.Enabled {
		e.logger.Info("metrics exporter disabled")
		return nil
	}

	router := mux.NewRouter()
	router.Handle(e.config.MetricsPath, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Addr:    e.config.ListenAddr,
		Handler: router,
	}

	go func() {
		e.logger.Info("starting metrics exporter",
			zap.String("address", e.config.ListenAddr),
			zap.String("path", e.config.MetricsPath),
		)

		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return e.Stop()
}

// Stop shuts down the HTTP server.
func (e *Exporter) Stop() error {
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}
	}

	e.logger.Info("metrics exporter stopped")
	return nil
}

// SetHashrate records the hash engine's smoothed hashrate for a thread pool.
func (e *Exporter) SetHashrate(core string, rate float64) {
	e.hashrate.WithLabelValues(core).Set(rate)
}

// ObserveMerit records a sieve-engine solution's merit.
func (e *Exporter) ObserveMerit(merit float64) {
	e.merit.Observe(merit)
}

// RecordShare records a stratum share outcome.
func (e *Exporter) RecordShare(result string) {
	e.sharesTotal.WithLabelValues(result).Inc()
}

// RecordBlockFound increments the blocks-found counter.
func (e *Exporter) RecordBlockFound() {
	e.blocksFound.Inc()
}

// SetActiveClients reports the current connected-client count.
func (e *Exporter) SetActiveClients(n int) {
	e.activeClients.Set(float64(n))
}

// IncSieveCycles increments the sieve-cycle counter.
func (e *Exporter) IncSieveCycles() {
	e.sieveCycles.Inc()
}

func (e *Exporter) initializeMetrics() {
	e.hashrate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: e.config.Namespace,
		Subsystem: "mining",
		Name:      "hashrate_hashes_per_second",
		Help:      "Current smoothed hashrate in hashes per second, by core",
	}, []string{"core"})

	e.merit = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: e.config.Namespace,
		Subsystem: "mining",
		Name:      "gap_merit",
		Help:      "Merit of discovered prime gaps",
		Buckets:   []float64{5, 10, 15, 20, 25, 30, 40, 50},
	})

	e.sharesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Subsystem: "stratum",
		Name:      "shares_total",
		Help:      "Total shares submitted, by result",
	}, []string{"result"})

	e.blocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Subsystem: "mining",
		Name:      "blocks_found_total",
		Help:      "Total blocks found by either core",
	})

	e.activeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: e.config.Namespace,
		Subsystem: "stratum",
		Name:      "active_clients",
		Help:      "Number of currently connected stratum clients",
	})

	e.sieveCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: e.config.Namespace,
		Subsystem: "mining",
		Name:      "sieve_cycles_total",
		Help:      "Total number of sieve segments processed",
	})

	e.registry.MustRegister(
		e.hashrate,
		e.merit,
		e.sharesTotal,
		e.blocksFound,
		e.activeClients,
		e.sieveCycles,
		prometheus.NewGoCollector(),
	)
}
