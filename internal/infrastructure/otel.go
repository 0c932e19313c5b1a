package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviders bundles the metric provider and its Prometheus scrape handler
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
}

// InitializeOTel sets up the OpenTelemetry meter provider backed by a
// Prometheus exporter. Metrics are pull-only; there is no OTLP push in an
// offline deployment.
func InitializeOTel(logger *slog.Logger) (*OTelProviders, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("exporter", "prometheus"),
	)

	return &OTelProviders{
		MeterProvider:  provider,
		Meter:          provider.Meter("igps"),
		PrometheusHTTP: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Shutdown flushes and stops the meter provider
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}
