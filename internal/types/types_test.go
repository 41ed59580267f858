package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusExpired}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	nonTerminal := []Status{StatusPending, StatusSigning, StatusSubmitting, StatusAwaiting}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestNewPendingState(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := NewPendingState(now)

	assert.Equal(t, StatusPending, state.Status)
	assert.Equal(t, 0, state.Attempts)
	assert.Equal(t, now, state.CreatedAt)
	assert.Equal(t, now, state.UpdatedAt)
}
