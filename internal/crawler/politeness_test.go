package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPauserHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerPauser{}.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestTimerPauserZeroDelay(t *testing.T) {
	t.Parallel()

	require.NoError(t, TimerPauser{}.Pause(context.Background(), 0))
}

func TestJitterDelayStaysInRange(t *testing.T) {
	t.Parallel()

	minDelay := 800 * time.Millisecond
	maxDelay := 2500 * time.Millisecond
	for range 200 {
		d := JitterDelay(minDelay, maxDelay)
		require.GreaterOrEqual(t, d, minDelay)
		require.LessOrEqual(t, d, maxDelay)
	}
	require.Equal(t, minDelay, JitterDelay(minDelay, minDelay))
	require.Equal(t, minDelay, JitterDelay(minDelay, time.Millisecond))
}
