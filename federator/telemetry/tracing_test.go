package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "federator", "test", "  ")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	EndSpan(span, errors.New("ignored"))
}
