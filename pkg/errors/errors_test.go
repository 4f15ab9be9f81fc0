package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
		code     string
		status   int
	}{
		{"not found", NotFound("medicine"), ErrNotFound, "NOT_FOUND", http.StatusNotFound},
		{"unauthorized", Unauthorized("authentication required"), ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
		{"bad request", BadRequest("invalid id"), ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest},
		{"conflict", Conflict("duplicate batch code"), ErrConflict, "CONFLICT", http.StatusConflict},
		{"internal", Internal("boom"), ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
		{"validation", Validation(map[string]string{"quantity": "must not be zero"}), ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest},
		{"concurrency conflict", ConcurrencyConflict("rows busy", nil), ErrConcurrencyConflict, "CONCURRENCY_CONFLICT", http.StatusConflict},
		{"storage fault", StorageFault("write failed", nil), ErrStorageFault, "STORAGE_FAULT", http.StatusServiceUnavailable},
		{"token expired", TokenExpired(), ErrTokenExpired, "TOKEN_EXPIRED", http.StatusUnauthorized},
		{"token invalid", TokenInvalid(), ErrTokenInvalid, "TOKEN_INVALID", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
		})
	}
}

func TestAppError_UnwrapsSentinelAndCause(t *testing.T) {
	cause := errors.New("lock timeout")
	err := ConcurrencyConflict("stock rows are busy", cause)

	assert.True(t, Is(err, ErrConcurrencyConflict))
	assert.True(t, Is(err, cause))
	assert.False(t, Is(err, ErrStorageFault))
	assert.Equal(t, "stock rows are busy: lock timeout", err.Error())

	var appErr *AppError
	assert.True(t, As(error(err), &appErr))
	assert.Equal(t, "CONCURRENCY_CONFLICT", appErr.Code)
}
