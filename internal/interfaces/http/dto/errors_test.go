package dto

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"not found", ErrCodeNotFound, http.StatusNotFound},
		{"already exists", ErrCodeAlreadyExists, http.StatusConflict},
		{"concurrency conflict", ErrCodeConcurrencyConflict, http.StatusConflict},
		{"invalid state", ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{"experiment not active", ErrCodeExperimentNotActive, http.StatusUnprocessableEntity},
		{"validation", ErrCodeValidation, http.StatusBadRequest},
		{"store unavailable", ErrCodeStoreUnavailable, http.StatusServiceUnavailable},
		{"unknown code defaults to 500", "ERR_SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"not found", "NOT_FOUND", ErrCodeNotFound},
		{"optimistic lock", "OPTIMISTIC_LOCK_FAILED", ErrCodeConcurrencyConflict},
		{"missing subject", "INVALID_SUBJECT", ErrCodeValidationRequired},
		{"flag key format", "INVALID_FLAG_KEY", ErrCodeValidationFormat},
		{"enable twice", "ALREADY_ENABLED", ErrCodeInvalidState},
		{"store unavailable", "STORE_UNAVAILABLE", ErrCodeStoreUnavailable},
		{"already normalized", ErrCodeNotFound, ErrCodeNotFound},
		{"unknown passes through", "SOMETHING_NEW", "SOMETHING_NEW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeErrorCode(tt.code))
		})
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(ErrCodeNotFound, "Experiment not found")
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Experiment not found", resp.Error.Message)
}
