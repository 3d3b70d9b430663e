package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/trebuchet-org/txm"

// Trace runs fn inside a span named name. An error returned by fn is
// recorded on the span before it ends.
func Trace(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// TraceValue is Trace for functions returning a value
func TraceValue[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	var out T
	err := Trace(ctx, name, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	}, attrs...)
	return out, err
}
