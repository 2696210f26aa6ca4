package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
		message  string
	}{
		{"not found", notFound("message not found"), ErrNotFound, KindNotFound, "message not found"},
		{"forbidden", forbidden("can only delete own messages"), ErrForbidden, KindForbidden, "can only delete own messages"},
		{"validation", invalid("invalid id"), ErrValidation, KindValidation, "invalid id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.kind, KindOf(wrapped))
			assert.Equal(t, tt.message, MessageOf(wrapped))
		})
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := internal("failed to insert message", cause)

	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal server error", MessageOf(err))
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.Equal(t, KindInternal, KindOf(errors.New("foreign")))
}
