package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/qfe/internal/logging"
)

func TestError_Message(t *testing.T) {
	err := Wrap(stderrors.New("boom"), "parsing failed").
		WithOperation("Parse").
		WithComponent("taskparser")

	assert.Equal(t, "parsing failed: operation=Parse, component=taskparser: boom", err.Error())
	assert.NotEmpty(t, err.StackTrace())
}

func TestWrap_KeepsSentinel(t *testing.T) {
	err := Wrapf(ErrNotFound, "job %q", "abc")

	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))
	assert.Equal(t, ErrNotFound, Unwrap(err))
	assert.Equal(t, "not found", ErrNotFound.Error(), "wrapping must not modify the sentinel")

	outer := fmt.Errorf("request: %w", err)
	var target *Error
	require.True(t, As(outer, &target))
	assert.Equal(t, `job "abc"`, target.Message)
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Wrap(ErrInvalidArgument, "bad"), http.StatusBadRequest},
		{Wrap(ErrNotFound, "missing"), http.StatusNotFound},
		{Wrap(ErrConflict, "done"), http.StatusConflict},
		{Wrap(ErrUnavailable, "busy"), http.StatusServiceUnavailable},
		{New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err))
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := logging.New(logging.ErrorLevel, &discard{})
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("unexpected")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)

	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, ""},
		{http.StatusNotFound, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		handler := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))

		assert.Equal(t, tt.status, rr.Code)
		if tt.level == "" {
			assert.Zero(t, buf.Len())
			continue
		}
		assert.Contains(t, buf.String(), `"level":"`+tt.level+`"`)
		assert.Contains(t, buf.String(), `"path":"/api/v1/status/x"`)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
