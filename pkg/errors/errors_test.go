package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{Unauthorized("no token"), KindUnauthorized, http.StatusUnauthorized},
		{Forbidden("not yours"), KindPermissionDenied, http.StatusForbidden},
		{Validation("empty"), KindValidation, http.StatusBadRequest},
		{NotFound("gone"), KindNotFound, http.StatusNotFound},
		{Transport("dropped", nil), KindTransientTransport, http.StatusServiceUnavailable},
		{Persistence("write failed", nil), KindPersistence, http.StatusInternalServerError},
		{ErrRateLimit, KindRateLimit, http.StatusTooManyRequests},
		{stderrors.New("plain"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, StatusOf(tt.err))
			assert.True(t, Is(tt.err, tt.kind))
		})
	}
	assert.False(t, Is(nil, KindInternal))
}

func TestWrapKeepsMessageAndCause(t *testing.T) {
	cause := stderrors.New("duplicate key")
	err := Persistence("Could not save message", cause)

	assert.Equal(t, "Could not save message", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("send: %w", err)
	assert.Equal(t, KindPersistence, KindOf(wrapped))

	// Wrap copies, the shared sentinel stays cause-free
	_ = ErrNotFound.Wrap(cause)
	assert.Nil(t, ErrNotFound.Unwrap())
}

func TestFromKind(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, FromKind(KindPermissionDenied, "x").Code)
	assert.Equal(t, http.StatusTooManyRequests, FromKind(KindRateLimit, "x").Code)

	unknown := FromKind("", "boom")
	assert.Equal(t, KindInternal, unknown.Kind)
	assert.Equal(t, http.StatusInternalServerError, unknown.Code)
	assert.Equal(t, "boom", unknown.Error())
}
