package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTraceParentRoundTrip(t *testing.T) {
	assert.Empty(t, GetTraceParent(context.Background()))

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	SetTracer(provider.Tracer("test"))
	t.Cleanup(func() { SetTracer(nil) })

	ctx, span := StartSpan(context.Background(), "producer")
	defer span.End()

	tp := GetTraceParent(ctx)
	assert.NotEmpty(t, tp)

	remote := ExtractTraceParent(context.Background(), tp)
	child, childSpan := StartSpan(remote, "consumer")
	defer childSpan.End()
	assert.Equal(t, GetTraceID(ctx), GetTraceID(child))
}
