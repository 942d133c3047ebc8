package governance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRace(t *testing.T) {
	t.Run("function wins", func(t *testing.T) {
		out, err := Race(t.Context(), time.Second, func(context.Context) int { return 42 })
		require.NoError(t, err)
		assert.Equal(t, 42, out)
	})

	t.Run("timer wins", func(t *testing.T) {
		start := time.Now()
		_, err := Race(t.Context(), 50*time.Millisecond, func(ctx context.Context) int {
			<-time.After(2 * time.Second)
			return 1
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("cooperative function sees cancellation", func(t *testing.T) {
		observed := make(chan struct{})
		_, err := Race(t.Context(), 20*time.Millisecond, func(ctx context.Context) int {
			<-ctx.Done()
			close(observed)
			return 0
		})
		assert.ErrorIs(t, err, ErrTimeout)
		select {
		case <-observed:
		case <-time.After(time.Second):
			t.Fatal("function never observed cancellation")
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := Race(ctx, time.Second, func(ctx context.Context) int {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return 0
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})
}

func TestDeltaMB(t *testing.T) {
	t.Run("missing counters", func(t *testing.T) {
		assert.Nil(t, DeltaMB(Snapshot{}, Snapshot{RSS: 10}))
	})

	t.Run("uses larger delta", func(t *testing.T) {
		before := Snapshot{RSS: 100 << 20, Heap: 10 << 20}
		after := Snapshot{RSS: 101 << 20, Heap: 14 << 20}
		got := DeltaMB(before, after)
		require.NotNil(t, got)
		assert.InDelta(t, 4.0, *got, 0.001)
	})

	t.Run("shrinking counts as zero", func(t *testing.T) {
		got := DeltaMB(Snapshot{RSS: 5 << 20}, Snapshot{RSS: 4 << 20})
		require.NotNil(t, got)
		assert.Zero(t, *got)
	})
}

func TestTrackerSnapshot(t *testing.T) {
	snap := NewTracker(nil).Snapshot()
	assert.NotZero(t, snap.Heap)
	assert.False(t, snap.Taken.IsZero())
}

func TestWatchDetectsGrowth(t *testing.T) {
	exceeded := make(chan float64, 1)
	w := StartWatch(t.Context(), 1<<20, time.Millisecond, func(used float64) { exceeded <- used })

	hold := make([][]byte, 0, 64)
	for range 64 {
		hold = append(hold, make([]byte, 256<<10))
	}

	select {
	case used := <-exceeded:
		assert.Greater(t, used, 1.0)
	case <-time.After(2 * time.Second):
		t.Fatal("limit breach was not reported")
	}
	peak := w.Stop()
	assert.True(t, w.Exceeded())
	assert.Greater(t, peak, 1.0)
	assert.Len(t, hold, 64)
}

func TestOverLimit(t *testing.T) {
	used := 120.0
	limit := uint64(100)
	assert.True(t, OverLimit(&used, &limit))
	assert.False(t, OverLimit(nil, &limit))
	assert.False(t, OverLimit(&used, nil))
}

func TestCapOutput(t *testing.T) {
	small := map[string]any{"ok": true}
	out, cut, err := CapOutput(small, 100)
	require.NoError(t, err)
	assert.False(t, cut)
	assert.Equal(t, small, out)

	big := map[string]any{"data": strings.Repeat("x", 500)}
	out, cut, err = CapOutput(big, 100)
	require.NoError(t, err)
	assert.True(t, cut)
	preview := out.(map[string]any)["preview"].(string)
	assert.LessOrEqual(t, len(preview), 100)
	assert.True(t, strings.HasSuffix(preview, truncationMarker))

	_, _, err = CapOutput(map[string]any{"fn": func() {}}, 100)
	assert.Error(t, err)
}

func TestCapLogs(t *testing.T) {
	entries := []script.LogEntry{
		{Level: script.LevelInfo, Message: strings.Repeat("a", 10)},
		{Level: script.LevelInfo, Message: strings.Repeat("b", 10)},
		{Level: script.LevelInfo, Message: strings.Repeat("c", 10)},
	}

	kept, cut := CapLogs(entries, 100)
	assert.False(t, cut)
	assert.Equal(t, entries, kept)

	kept, cut = CapLogs(entries, 20)
	assert.True(t, cut)
	require.Len(t, kept, 3)
	assert.Equal(t, script.LevelWarn, kept[2].Level)
	assert.Contains(t, kept[2].Message, "1 entries dropped")
}

func TestTruncateStringKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", 40)
	got := TruncateString(s, 25)
	assert.LessOrEqual(t, len(got), 25)
	assert.True(t, strings.HasSuffix(got, truncationMarker))
	assert.True(t, strings.HasPrefix(got, "é"))
}

func TestFinalize(t *testing.T) {
	res := script.Succeeded(map[string]any{"data": strings.Repeat("z", 300)}, nil, time.Millisecond)
	Finalize(res, 64)
	assert.True(t, res.Success)
	assert.True(t, res.Truncated)

	bad := script.Succeeded(map[string]any{"fn": func() {}}, nil, time.Millisecond)
	Finalize(bad, 64)
	assert.False(t, bad.Success)
	assert.ErrorIs(t, bad.Error, script.ErrSerialization)
}

func TestSanitizeEnv(t *testing.T) {
	parent := []string{
		"PATH=/usr/bin",
		"HOME=/home/ci",
		"LC_ALL=C.UTF-8",
		"GITHUB_TOKEN=ghp_secret",
		"AWS_SECRET_ACCESS_KEY=abc",
		"RANDOM_VAR=1",
		"malformed",
	}
	extra := map[string]string{
		"SUITE_MODE":  "strict",
		"MY_API_KEY":  "should-go",
		"DB_PASSWORD": "should-go",
	}

	env := SanitizeEnv(parent, extra)
	assert.Equal(t, []string{
		"HOME=/home/ci",
		"LC_ALL=C.UTF-8",
		"PATH=/usr/bin",
		"SUITE_MODE=strict",
	}, env)
}

func TestIsSensitive(t *testing.T) {
	for _, name := range []string{"GITHUB_TOKEN", "aws_region", "KUBECONFIG", "client_secret", "SSH_AUTH_SOCK"} {
		assert.True(t, IsSensitive(name), name)
	}
	for _, name := range []string{"PATH", "LANG", "SUITE_MODE"} {
		assert.False(t, IsSensitive(name), name)
	}
}
