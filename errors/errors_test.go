package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrap(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Dispatcher", "dispatchInbound", "route lookup")
	require.Error(t, err)
	assert.Equal(t, "Dispatcher.dispatchInbound: route lookup failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "Dispatcher", "dispatchInbound", "route lookup"))
}

func TestWrapTransient(t *testing.T) {
	base := stderrors.New("redis gone")
	err := WrapTransient(base, "WindowManager", "Add", "payload store")

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.False(t, IsInvalid(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "WindowManager", ce.Component)
	assert.Equal(t, ErrorTransient, ce.Class)
}

func TestWrapInvalid(t *testing.T) {
	err := WrapInvalid(ErrMissingField, "MessageCodec", "Decode", "to_addr validation")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}

func TestWrapFatal(t *testing.T) {
	err := WrapFatal(ErrInvalidConfig, "Worker", "Initialize", "config validation")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestIsTransientSentinels(t *testing.T) {
	for _, err := range []error{
		ErrConnectionLost,
		ErrConnectionTimeout,
		ErrStoreUnavailable,
		ErrThrottled,
		ErrQueueFull,
		context.DeadlineExceeded,
	} {
		assert.True(t, IsTransient(err), "expected %v to be transient", err)
	}
}

func TestIsTransientPatternFallback(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(fmt.Errorf("peer throttled us")))
	assert.False(t, IsTransient(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidMessage))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := stderrors.New("inner")
	err := WrapTransient(base, "C", "M", "A")
	assert.True(t, stderrors.Is(err, base))
}
