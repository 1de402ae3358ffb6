package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidInput, 400},
		{CodeInsufficientFunds, 400},
		{CodeNotFound, 404},
		{CodeForbidden, 403},
		{CodeInvalidOrderState, 409},
		{CodeInternal, 500},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(New(tt.code, "boom")))
	}

	assert.Equal(t, 500, HTTPStatus(fmt.Errorf("plain error")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "missing")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", New(CodeInsufficientFunds, "broke"))
	assert.Equal(t, CodeInsufficientFunds, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeInsufficientFunds))
	assert.False(t, Is(wrapped, CodeNotFound))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "query users")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query users")
}
