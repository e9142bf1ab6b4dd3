package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, time.March, 14, 15, 9, 26, 0, time.UTC)
	return func() time.Time { return at }
}

func TestClockTool_Defaults(t *testing.T) {
	clock := NewClockToolAt(fixedClock())

	out, err := clock.Call(context.Background(), map[string]any{})

	require.NoError(t, err)
	assert.Equal(t, "Fri, 14 Mar 2025 15:09:26 UTC", out)
}

func TestClockTool_TimezoneAware(t *testing.T) {
	clock := NewClockToolAt(fixedClock())

	out, err := clock.Call(context.Background(), map[string]any{
		"timezone": "America/New_York",
		"format":   "rfc3339",
	})

	require.NoError(t, err)
	assert.Equal(t, "2025-03-14T11:09:26-04:00", out)
}

func TestClockTool_NamedAndLayoutFormats(t *testing.T) {
	clock := NewClockToolAt(fixedClock())

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{"named date", "date", "2025-03-14"},
		{"named time", "time", "15:09:26"},
		{"go layout", "2006/01/02", "2025/03/14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := clock.Call(context.Background(), map[string]any{"format": tt.format})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestClockTool_UnknownTimezone(t *testing.T) {
	clock := NewClockToolAt(fixedClock())

	_, err := clock.Call(context.Background(), map[string]any{"timezone": "Mars/Olympus"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mars/Olympus")
}
