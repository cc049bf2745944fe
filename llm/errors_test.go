package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := classifyHTTPError(tt.status, []byte("body"))
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsFatal(err))
			assert.Equal(t, tt.transient, IsRetryable(err))
		})
	}
}

func TestClassifyHTTPError_TruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := classifyHTTPError(500, long)

	var status *StatusError
	assert.True(t, errors.As(err, &status))
	assert.Len(t, status.Body, 203)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(classifyHTTPError(429, nil)))
	assert.False(t, IsRateLimited(classifyHTTPError(503, nil)))
	wrapped := fmt.Errorf("%w: %w", ErrExhausted, classifyHTTPError(429, nil))
	assert.True(t, IsRateLimited(wrapped))
}

func TestConfigErrorIsFatal(t *testing.T) {
	err := NewConfigError(errors.New("missing key"))
	assert.True(t, IsConfigError(err))
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "configuration error: missing key", err.Error())
}

func TestClassifyTransportError(t *testing.T) {
	parent := context.Background()
	assert.True(t, IsTransient(classifyTransportError(parent, io.ErrUnexpectedEOF)))
	assert.True(t, IsTransient(classifyTransportError(parent, context.DeadlineExceeded)))
	assert.True(t, IsTransient(classifyTransportError(parent, errors.New("connection reset by peer"))))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := classifyTransportError(cancelled, errors.New("whatever"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}
