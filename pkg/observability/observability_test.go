package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("taskchat-test", "test", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "backend.send_message", AttrThreadID.String("t1"))
	EndSpan(span, errors.New("boom"))
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "backend.send_message")
	assert.Contains(t, buf.String(), "boom")
}

func TestNilTracerProviderShutdown(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}
