package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the node's log file",
	Long: `Print the most recent entries of the log file named by logging.output,
optionally following it as the node writes. Nodes logging to stdout or
stderr have no file to read.

Examples:
  # Last 100 lines
  dittolock logs

  # Follow, starting from the last 20 lines
  dittolock logs -f -n 20

  # Entries of the last quarter hour
  dittolock logs --since 15m

  # Entries after a point in time
  dittolock logs --since 2026-01-15T10:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow the log file")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show (0 for all)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Only entries after an RFC3339 time or a duration ago (e.g. 15m)")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	path, err := logFilePath(cfg.Logging.Output)
	if err != nil {
		return err
	}
	since, err := parseSince(logsSince, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := printTail(out, path, logsLines, since); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)...\n", path)
	return followLog(ctx, out, path)
}

func logFilePath(output string) (string, error) {
	switch strings.ToLower(output) {
	case "", "stdout", "stderr":
		return "", fmt.Errorf("logging.output is %q, not a file\nSet logging.output to a file path to use this command", output)
	}
	if _, err := os.Stat(output); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("log file not found: %s\nThe node may not have started yet", output)
		}
		return "", fmt.Errorf("failed to stat log file: %w", err)
	}
	return output, nil
}

// parseSince accepts an RFC3339 time or a duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: use RFC3339 or a duration such as 15m", s)
	}
	return now.Add(-d), nil
}

// printTail writes the last n lines of path (all when n <= 0). Lines with a
// timestamp before since are skipped; lines without one are kept.
func printTail(w io.Writer, path string, n int, since time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ring []string
	next := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if ts := lineTime(line); !ts.IsZero() && ts.Before(since) {
				continue
			}
		}
		if n <= 0 || len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	for i := range ring {
		if _, err := fmt.Fprintln(w, ring[(next+i)%len(ring)]); err != nil {
			return err
		}
	}
	return nil
}

// lineTime extracts the timestamp of a text ("[2006-01-02 15:04:05] ...") or
// JSON ({"time":...}) log line. It returns the zero time when there is none.
func lineTime(line string) time.Time {
	switch {
	case strings.HasPrefix(line, "[") && len(line) > len(time.DateTime)+1:
		t, err := time.ParseInLocation(time.DateTime, line[1:len(time.DateTime)+1], time.Local)
		if err == nil {
			return t
		}
	case strings.HasPrefix(line, "{"):
		var entry struct {
			Time time.Time `json:"time"`
		}
		if json.Unmarshal([]byte(line), &entry) == nil {
			return entry.Time
		}
	}
	return time.Time{}
}

// logTail reads complete lines appended to a file. A partial last line is
// held back until its newline arrives.
type logTail struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
}

func openLogTail(path string) (*logTail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to seek log file: %w", err)
	}
	return &logTail{path: path, file: f, reader: bufio.NewReader(f), offset: end}, nil
}

// reopen starts over on a new file at path, after a rotation.
func (t *logTail) reopen() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to reopen log file: %w", err)
	}
	_ = t.file.Close()
	t.file, t.offset, t.partial = f, 0, t.partial[:0]
	t.reader.Reset(f)
	return nil
}

// drain copies every complete line available to w. A file that shrank was
// truncated in place and is read again from the start.
func (t *logTail) drain(w io.Writer) error {
	if fi, err := t.file.Stat(); err == nil && fi.Size() < t.offset {
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind log file: %w", err)
		}
		t.offset, t.partial = 0, t.partial[:0]
		t.reader.Reset(t.file)
	}

	for {
		chunk, err := t.reader.ReadBytes('\n')
		t.offset += int64(len(chunk))
		t.partial = append(t.partial, chunk...)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read log file: %w", err)
		}
		if _, err := w.Write(t.partial); err != nil {
			return err
		}
		t.partial = t.partial[:0]
	}
}

func (t *logTail) Close() error {
	return t.file.Close()
}

// followLog writes lines appended to path until ctx is done. The directory
// is watched rather than the file so a rotated log is picked up.
func followLog(ctx context.Context, w io.Writer, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	tail, err := openLogTail(path)
	if err != nil {
		return err
	}
	defer func() { _ = tail.Close() }()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				// Flush what the old file still had before switching.
				if err := tail.drain(w); err != nil {
					return err
				}
				if err := tail.reopen(); err != nil {
					return err
				}
				if err := tail.drain(w); err != nil {
					return err
				}
			case event.Has(fsnotify.Write):
				if err := tail.drain(w); err != nil {
					return err
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher error: %w", err)
		}
	}
}
