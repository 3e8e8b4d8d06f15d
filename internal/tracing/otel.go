package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerOnce     sync.Once
	tracerMu       sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	tracerInitErr  error
)

// InitOpenTelemetry installs the process-wide tracer provider used by
// every StartSpan call (chat requests, loop turns, provider calls,
// store and queue operations). sampleRatio in [0,1] controls head
// sampling; parent decisions always win so one chat request traces as
// a unit. Calling it again after the first successful init is a no-op.
func InitOpenTelemetry(serviceName string, sampleRatio float64) error {
	tracerOnce.Do(func() {
		if sampleRatio < 0 || sampleRatio > 1 {
			sampleRatio = 1
		}

		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			tracerInitErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
			sdktrace.WithResource(res),
		)

		tracerMu.Lock()
		tracerProvider = tp
		tracerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return tracerInitErr
}

// ShutdownOpenTelemetry flushes pending spans and releases the tracer
// provider. Called from serve teardown after the gateway drains.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tracerMu.RLock()
	tp := tracerProvider
	tracerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span and mirrors its trace id into the logging
// context so zerolog lines and spans correlate on trace_id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
