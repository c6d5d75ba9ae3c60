package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsReadHeaderTimeout = 5 * time.Second

// PrometheusReader creates a Prometheus exporter backed by a private
// registry and returns it together with the [http.Handler] serving the
// /metrics scrape payload. The reader has to be attached to the process
// MeterProvider so OTel instruments are collected.
func PrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// startMetricsServer serves the scrape handler under /metrics on addr.
// The returned shutdown drains in-flight scrapes and closes the listener.
func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (shutdownFunc, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics address %q: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", "addr", addr, "error", serveErr)
		}
	}()

	return func(ctx context.Context) error {
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			return fmt.Errorf("shutdown metrics listener: %w", shutdownErr)
		}

		return nil
	}, nil
}
