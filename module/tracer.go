package module

import (
	"context"

	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
)

var (
	_ Tracer = &trace.Tracer{}
	_ Tracer = &trace.NoopTracer{}
)

// Tracer starts spans around SUT calls.
type Tracer interface {
	ReadyDoneAware

	// StartSpanFromContext starts a span as a child of the span carried by ctx,
	// and returns the context carrying the new span.
	StartSpanFromContext(
		ctx context.Context,
		operationName trace.SpanName,
		opts ...otelTrace.SpanStartOption,
	) (
		otelTrace.Span,
		context.Context,
	)

	// WithSpanFromContext runs f within a span that ends when f returns.
	WithSpanFromContext(
		ctx context.Context,
		operationName trace.SpanName,
		f func(),
		opts ...otelTrace.SpanStartOption,
	)
}
