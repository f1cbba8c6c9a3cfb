package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "expected %v between %v and %v", got, before, after)
	require.Zero(t, got.Nanosecond()%int(time.Microsecond), "expected microsecond precision")
}

func TestClockSince(t *testing.T) {
	t.Parallel()

	clk := New()
	start := clk.Now().Add(-time.Minute)
	require.GreaterOrEqual(t, clk.Since(start), time.Minute)
}
