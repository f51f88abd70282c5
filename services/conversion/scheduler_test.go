package conversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextRunTime(t *testing.T) {
	loc := time.UTC

	// Before today's slot: run today.
	now := time.Date(2026, 3, 1, 0, 30, 0, 0, loc)
	next := nextRunTime(now, 1, 0)
	require.Equal(t, time.Date(2026, 3, 1, 1, 0, 0, 0, loc), next)

	// Past today's slot: run tomorrow.
	now = time.Date(2026, 3, 1, 1, 0, 1, 0, loc)
	next = nextRunTime(now, 1, 0)
	require.Equal(t, time.Date(2026, 3, 2, 1, 0, 0, 0, loc), next)

	// Exactly on the slot counts as not yet passed.
	now = time.Date(2026, 3, 1, 1, 0, 0, 0, loc)
	next = nextRunTime(now, 1, 0)
	require.Equal(t, now, next)
}

func TestNewSweepTask(t *testing.T) {
	task := NewSweepTask()
	require.Equal(t, TypeSweepFlush, task.Type())
	require.Empty(t, task.Payload())
}
