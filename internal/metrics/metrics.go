// Package metrics routes the go-metrics calls made throughout syncspace to
// a Prometheus registry and serves it over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	gmprom "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service prefixes every metric name.
const Service = "syncspace"

// Metrics owns the registry behind the global go-metrics sink.
type Metrics struct {
	Registry *prometheus.Registry
	sink     *gmprom.PrometheusSink
}

// Setup installs a Prometheus-backed global sink. Series not updated
// within expiration are dropped from scrapes; zero keeps them forever.
func Setup(expiration time.Duration) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	sink, err := gmprom.NewPrometheusSinkFrom(gmprom.PrometheusOpts{
		Expiration: expiration,
		Registerer: reg,
	})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	cfg := gometrics.DefaultConfig(Service)
	cfg.EnableHostname = false
	cfg.EnableHostnameLabel = false
	cfg.EnableRuntimeMetrics = false
	if _, err := gometrics.NewGlobal(cfg, sink); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &Metrics{Registry: reg, sink: sink}, nil
}

// Register adds a collector, such as a Pebble store's, to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.Registry.Register(c)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("metrics: listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdown)
		if rerr := <-errc; rerr != nil && !errors.Is(rerr, http.ErrServerClosed) {
			return rerr
		}
		return err
	}
}
