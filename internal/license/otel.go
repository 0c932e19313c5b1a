package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for license operations.
// A nil *Metrics is valid and records nothing, so the manager works the same
// with and without a meter provider wired in.
type Metrics struct {
	activations  metric.Int64Counter
	permits      metric.Int64Counter
	denials      metric.Int64Counter
	statusChecks metric.Int64Counter
	gateLatency  metric.Float64Histogram
}

// NewMetrics creates license metrics instruments on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	activations, err := meter.Int64Counter("igps.license.activations",
		metric.WithDescription("License activation attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	permits, err := meter.Int64Counter("igps.license.permits",
		metric.WithDescription("Gated operations permitted"),
	)
	if err != nil {
		return nil, err
	}

	denials, err := meter.Int64Counter("igps.license.denials",
		metric.WithDescription("Gated operations denied by reason"),
	)
	if err != nil {
		return nil, err
	}

	statusChecks, err := meter.Int64Counter("igps.license.status_checks",
		metric.WithDescription("License status derivations by resulting state"),
	)
	if err != nil {
		return nil, err
	}

	gateLatency, err := meter.Float64Histogram("igps.license.gate_latency_ms",
		metric.WithDescription("Usage gate decision latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		activations:  activations,
		permits:      permits,
		denials:      denials,
		statusChecks: statusChecks,
		gateLatency:  gateLatency,
	}, nil
}

// RecordActivation records an activation attempt outcome
func (x *Metrics) RecordActivation(ctx context.Context, result string) {
	if x == nil {
		return
	}
	x.activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordPermit records a granted permit
func (x *Metrics) RecordPermit(ctx context.Context, operation, mode string) {
	if x == nil {
		return
	}
	x.permits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("mode", mode),
	))
}

// RecordDenial records a denied gated operation
func (x *Metrics) RecordDenial(ctx context.Context, operation, reason string) {
	if x == nil {
		return
	}
	x.denials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}

// RecordStatusCheck records a status derivation
func (x *Metrics) RecordStatusCheck(ctx context.Context, kind string) {
	if x == nil {
		return
	}
	x.statusChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", kind),
	))
}

// RecordGateLatency records a usage gate decision latency
func (x *Metrics) RecordGateLatency(ctx context.Context, d time.Duration) {
	if x == nil {
		return
	}
	x.gateLatency.Record(ctx, float64(d.Microseconds())/1000.0)
}
