package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
		{http.StatusBadRequest, ErrInvalidInput},
		{http.StatusUnprocessableEntity, ErrInvalidInput},
		{http.StatusNotModified, ErrInternal},
	}

	for _, tt := range tests {
		err := FromStatus(tt.status, "boom")
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		assert.Contains(t, err.Error(), "boom")
	}
}

func TestTransientErr_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransientErr(cause, "create session")

	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
}

func TestTransientErr_CanceledIsNotRetryable(t *testing.T) {
	err := TransientErr(context.Canceled, "open stream")

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "", Category(nil))
	assert.Equal(t, "ErrInvalidInput", Category(InvalidInput("decision id too short")))
	assert.Equal(t, "ErrMalformedFrame", Category(MalformedFrame("bad json")))
	assert.Equal(t, "ErrNoSession", Category(fmt.Errorf("send: %w", ErrNoSession)))
	assert.Equal(t, "Unknown", Category(errors.New("other")))
}
