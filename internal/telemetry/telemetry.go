// Package telemetry wires OpenTelemetry tracing and counters for the
// checkout path and the sync engine.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scope = "offlinepos"

// Counter names.
const (
	CheckoutCompleted = "checkout.completed"
	ReplayOK          = "sync.replay.ok"
	ReplayFailed      = "sync.replay.failed"
)

// Setup installs an sdk tracer provider that writes spans to w. When
// enabled is false the global no-op provider stays in place. The returned
// func flushes and stops the provider.
func Setup(enabled bool, w io.Writer, deviceID string) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", scope),
		attribute.String("device.id", deviceID),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Tracer() trace.Tracer { return otel.Tracer(scope) }

// Counter returns a named counter from the global meter. Instrument errors
// fall back to a no-op counter.
func Counter(name string) metric.Int64Counter {
	c, err := otel.Meter(scope).Int64Counter(name)
	if err != nil {
		c, _ = noopMeter.Int64Counter(name)
	}
	return c
}
