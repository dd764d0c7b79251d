package trace_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func TestNoopTracer(t *testing.T) {
	tracer := trace.NewNoopTracer()
	unittest.RequireCloseBefore(t, tracer.Ready(), time.Second, "tracer not ready")

	span, ctx := tracer.StartSpanFromContext(context.Background(), trace.WorkerExecuteItem)
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	called := false
	tracer.WithSpanFromContext(ctx, trace.WorkerSubmit, func() { called = true })
	assert.True(t, called)

	unittest.RequireCloseBefore(t, tracer.Done(), time.Second, "tracer not done")
}

func TestSpanName_Child(t *testing.T) {
	assert.Equal(t, trace.SpanName("worker.executeItem.retry"), trace.WorkerExecuteItem.Child("retry"))
}
