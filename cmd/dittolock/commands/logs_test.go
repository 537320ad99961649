package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe to read while followLog writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dittolock.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func appendLog(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestLineTime(t *testing.T) {
	tests := []struct {
		name string
		line string
		want time.Time
	}{
		{
			name: "text",
			line: "[2026-01-15 10:30:45] [INFO] Lock granted lock_id=orders",
			want: time.Date(2026, 1, 15, 10, 30, 45, 0, time.Local),
		},
		{
			name: "json",
			line: `{"time":"2026-01-15T10:30:45.123Z","level":"INFO","msg":"Lock granted"}`,
			want: time.Date(2026, 1, 15, 10, 30, 45, 123_000_000, time.UTC),
		},
		{name: "continuation", line: "  at frame 3"},
		{name: "bad bracket", line: "[not a time] message"},
		{name: "bad json", line: `{"time":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(lineTime(tt.line)), "got %v", lineTime(tt.line))
		})
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("15m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-15*time.Minute), got)

	got, err = parseSince("2026-02-28T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday", now)
	assert.ErrorContains(t, err, "invalid --since")
	_, err = parseSince("-5m", now)
	assert.Error(t, err)
}

func TestLogFilePath(t *testing.T) {
	for _, out := range []string{"", "stdout", "STDERR"} {
		_, err := logFilePath(out)
		assert.ErrorContains(t, err, "not a file", out)
	}

	_, err := logFilePath(filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorContains(t, err, "log file not found")

	path := writeLog(t, "x")
	got, err := logFilePath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestPrintTail(t *testing.T) {
	path := writeLog(t,
		"[2026-01-15 10:00:00] [INFO] one",
		"[2026-01-15 11:00:00] [INFO] two",
		"  detail of two",
		"[2026-01-15 12:00:00] [WARN] three",
	)

	t.Run("LastLines", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTail(&buf, path, 2, time.Time{}))
		assert.Equal(t, "  detail of two\n[2026-01-15 12:00:00] [WARN] three\n", buf.String())
	})

	t.Run("All", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printTail(&buf, path, 0, time.Time{}))
		assert.Equal(t, 4, strings.Count(buf.String(), "\n"))
	})

	t.Run("Since", func(t *testing.T) {
		var buf bytes.Buffer
		since := time.Date(2026, 1, 15, 10, 30, 0, 0, time.Local)
		require.NoError(t, printTail(&buf, path, 10, since))
		assert.NotContains(t, buf.String(), "one")
		assert.Contains(t, buf.String(), "two\n  detail of two\n")
	})
}

func startFollow(t *testing.T, path string) (*lockedBuffer, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- followLog(ctx, out, path) }()

	// Give the watcher time to register before the test writes.
	time.Sleep(50 * time.Millisecond)
	t.Cleanup(cancel)
	return out, cancel, done
}

func stopFollow(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("followLog did not stop")
	}
}

func TestFollowLog(t *testing.T) {
	path := writeLog(t, "old line")
	out, cancel, done := startFollow(t, path)

	appendLog(t, path, "first\nsecond with")
	require.Eventually(t, func() bool { return out.String() == "first\n" }, 2*time.Second, 5*time.Millisecond)

	appendLog(t, path, " tail\n")
	require.Eventually(t, func() bool {
		return out.String() == "first\nsecond with tail\n"
	}, 2*time.Second, 5*time.Millisecond)

	stopFollow(t, cancel, done)
}

func TestFollowLog_Rotation(t *testing.T) {
	path := writeLog(t, "old line")
	out, cancel, done := startFollow(t, path)

	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, os.WriteFile(path, []byte("after rotation\n"), 0644))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "after rotation\n")
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotContains(t, out.String(), "old line")

	stopFollow(t, cancel, done)
}

func TestFollowLog_Truncation(t *testing.T) {
	path := writeLog(t, "a fairly long line that makes the file larger")
	out, cancel, done := startFollow(t, path)

	require.NoError(t, os.WriteFile(path, []byte("short\n"), 0644))
	require.Eventually(t, func() bool { return out.String() == "short\n" }, 2*time.Second, 5*time.Millisecond)

	stopFollow(t, cancel, done)
}
