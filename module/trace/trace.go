package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const DefaultSamplingRate = 0.01

// Tracer is an OTLP tracer that exports spans over gRPC.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
	log      zerolog.Logger
}

// NewTracer creates a tracer exporting to endpoint (host:port). Only a
// sensitivity share of the root spans is sampled.
func NewTracer(
	log zerolog.Logger,
	serviceName string,
	endpoint string,
	sensitivity float64,
) (
	*Tracer,
	error,
) {
	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sensitivity))),
	)

	return &Tracer{
		tracer:   provider.Tracer(serviceName),
		shutdown: provider.Shutdown,
		log:      log.With().Str("component", "tracer").Logger(),
	}, nil
}

// Ready returns a channel that will close when the tracer is ready.
func (t *Tracer) Ready() <-chan struct{} {
	ready := make(chan struct{})
	close(ready)
	return ready
}

// Done returns a channel that will close once pending spans are flushed.
func (t *Tracer) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := t.shutdown(ctx)
		if err != nil {
			t.log.Error().Err(err).Msg("error flushing spans")
		}
		close(done)
	}()
	return done
}

func (t *Tracer) StartSpanFromContext(
	ctx context.Context,
	operationName SpanName,
	opts ...trace.SpanStartOption,
) (
	trace.Span,
	context.Context,
) {
	ctx, span := t.tracer.Start(ctx, string(operationName), opts...)
	return span, ctx
}

func (t *Tracer) WithSpanFromContext(
	ctx context.Context,
	operationName SpanName,
	f func(),
	opts ...trace.SpanStartOption,
) {
	span, _ := t.StartSpanFromContext(ctx, operationName, opts...)
	defer span.End()
	f()
}
