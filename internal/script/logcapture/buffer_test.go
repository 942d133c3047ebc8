package logcapture

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintJoinsWithTab(t *testing.T) {
	buf := New()
	buf.Print("first")
	buf.Print("a", "b", "c")
	buf.Print()

	logs := buf.Extract()
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "a\tb\tc", logs[1].Message)
	assert.Equal(t, "", logs[2].Message)
	for _, entry := range logs {
		assert.Equal(t, script.LevelInfo, entry.Level)
		assert.False(t, entry.Timestamp.IsZero())
	}
}

func TestExtractClears(t *testing.T) {
	buf := New()
	buf.Capture(script.LevelWarn, "careful")
	assert.Len(t, buf.Extract(), 1)
	assert.Empty(t, buf.Extract())
	assert.Zero(t, buf.Len())
}

func TestEvictsOldest(t *testing.T) {
	buf := New(WithMaxEntries(3))
	for i := range 5 {
		buf.Capture(script.LevelInfo, fmt.Sprintf("line %d", i))
	}
	logs := buf.Extract()
	require.Len(t, logs, 3)
	assert.Equal(t, "line 2", logs[0].Message)
	assert.Equal(t, "line 4", logs[2].Message)
	assert.Equal(t, 2, buf.Dropped())
}

func TestConcurrentCapture(t *testing.T) {
	buf := New()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 50 {
				buf.Capture(script.LevelDebug, fmt.Sprintf("%d-%d", w, i))
			}
		})
	}
	wg.Wait()
	assert.Len(t, buf.Extract(), 400)
}

func TestMirror(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	buf := New(WithMirror(logger))
	buf.Capture(script.LevelError, "mirrored")
	assert.Contains(t, out.String(), "mirrored")
}

func TestLineWriter(t *testing.T) {
	buf := New()
	w := buf.LineWriter(script.LevelInfo, nil)

	_, err := io.WriteString(w, "one\ntw")
	require.NoError(t, err)
	_, err = io.WriteString(w, "o\r\nthree")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	logs := buf.Extract()
	require.Len(t, logs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{logs[0].Message, logs[1].Message, logs[2].Message})
}

func TestLineWriterClassify(t *testing.T) {
	buf := New()
	w := buf.LineWriter(script.LevelInfo, func(line string) (script.LogLevel, string, bool) {
		level, msg, ok := strings.Cut(line, ":")
		if !ok {
			return "", "", false
		}
		return script.ParseLogLevel(level), msg, true
	})
	_, err := io.WriteString(w, "warn:disk low\nnoise\nerror:failed\n")
	require.NoError(t, err)

	logs := buf.Extract()
	require.Len(t, logs, 2)
	assert.Equal(t, script.LevelWarn, logs[0].Level)
	assert.Equal(t, "disk low", logs[0].Message)
	assert.Equal(t, script.LevelError, logs[1].Level)
}
