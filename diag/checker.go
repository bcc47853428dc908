// Package diag runs instrumented connectivity diagnostics over a gateway
// and serves them to operators. It replaces the original stack's ad-hoc
// service test scripts and the web UI's status panel.
package diag

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/scrtlabs/secret-agent-go/gateway"
	"github.com/scrtlabs/secret-agent-go/observability"
)

// Checker runs gateway connection tests with tracing and metrics.
type Checker struct {
	gw     *gateway.Gateway
	log    *slog.Logger
	tracer trace.Tracer

	checksTotal   metric.Int64Counter
	failuresTotal metric.Int64Counter
	probeLatency  metric.Float64Histogram
}

// NewChecker builds a checker over gw. Instruments come from the global
// otel providers; call observability.InitMetrics first to export them.
func NewChecker(gw *gateway.Gateway, log *slog.Logger) (*Checker, error) {
	meter := observability.Meter("secret-agent-gateway/diag")

	checksTotal, err := meter.Int64Counter("gateway_connection_checks_total",
		metric.WithDescription("Connection test runs started"))
	if err != nil {
		return nil, err
	}
	failuresTotal, err := meter.Int64Counter("gateway_backend_failures_total",
		metric.WithDescription("Backend probes that failed"))
	if err != nil {
		return nil, err
	}
	probeLatency, err := meter.Float64Histogram("gateway_probe_duration_seconds",
		metric.WithDescription("Per-backend probe latency"))
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		gw:            gw,
		log:           log,
		tracer:        observability.Tracer("secret-agent-gateway/diag"),
		checksTotal:   checksTotal,
		failuresTotal: failuresTotal,
		probeLatency:  probeLatency,
	}, nil
}

// Run executes one connection test and records its outcome.
func (c *Checker) Run(ctx context.Context) gateway.Report {
	ctx, span := c.tracer.Start(ctx, "gateway.test_connections")
	defer span.End()

	c.checksTotal.Add(ctx, 1)
	report := c.gw.TestConnections(ctx)

	span.SetAttributes(
		attribute.String("report.id", report.ID),
		attribute.String("gateway.mode", report.Mode),
	)

	for _, b := range report.Backends {
		attrs := metric.WithAttributes(attribute.String("backend", b.Backend))
		c.probeLatency.Record(ctx, b.Latency.Seconds(), attrs)
		if b.OK {
			c.log.InfoContext(ctx, "backend reachable", "backend", b.Backend, "detail", b.Detail, "latency", b.Latency)
			continue
		}
		c.failuresTotal.Add(ctx, 1, attrs)
		c.log.WarnContext(ctx, "backend unreachable", "backend", b.Backend, "error", b.Error, "latency", b.Latency)
	}

	if !report.Healthy() {
		span.SetStatus(codes.Error, "one or more backends unreachable")
	}
	return report
}
