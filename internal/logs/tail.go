package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CurrentLogName is the pointer relayd keeps at its active run log.
const CurrentLogName = "relayd.log"

const maxLineBytes = 1024 * 1024

// CurrentLog returns the current-log pointer inside logDir.
func CurrentLog(logDir string) string {
	return filepath.Join(logDir, CurrentLogName)
}

// Options controls Tail.
type Options struct {
	// Lines is how many trailing lines to print first; 0 prints none.
	Lines  int
	Follow bool
	// Poll is the follow interval. Defaults to 250ms.
	Poll   time.Duration
	Filter Filter
}

// Tail emits the last opts.Lines matching lines of path and, when following,
// every matching line appended afterwards until ctx ends. A missing file is
// waited for when following and is an error otherwise.
func Tail(ctx context.Context, path string, opts Options, emit func(string) error) error {
	if opts.Poll <= 0 {
		opts.Poll = 250 * time.Millisecond
	}

	offset, ident, err := emitLast(path, opts.Lines, opts.Filter, emit)
	if err != nil && !(opts.Follow && errors.Is(err, os.ErrNotExist)) {
		return err
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat log file: %w", err)
		}
		// A new run log or a truncated file starts over from the top.
		if !os.SameFile(info, ident) || info.Size() < offset {
			offset = 0
			ident = info
		}
		if info.Size() == offset {
			continue
		}
		offset, err = emitFrom(path, offset, opts.Filter, emit)
		if err != nil {
			return err
		}
	}
}

func emitLast(path string, limit int, filter Filter, emit func(string) error) (int64, os.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return 0, nil, fmt.Errorf("log path %q is a directory", path)
	}

	var ring []string
	next := 0
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	offset, err := scanLines(file, 0, func(line string) error {
		if limit <= 0 || !filter.Match(line) {
			return nil
		}
		if len(ring) < limit {
			ring = append(ring, line)
			return nil
		}
		ring[next] = line
		next = (next + 1) % limit
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	for i := 0; i < len(ring); i++ {
		if err := emit(ring[(next+i)%len(ring)]); err != nil {
			return 0, nil, err
		}
	}
	return offset, info, nil
}

func emitFrom(path string, offset int64, filter Filter, emit func(string) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	return scanLines(file, offset, func(line string) error {
		if !filter.Match(line) {
			return nil
		}
		return emit(line)
	})
}

// scanLines feeds complete lines to fn and returns the offset after the last
// newline, so a partially written line is read again on the next poll.
func scanLines(r io.Reader, start int64, fn func(string) error) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	offset := start
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		if err := fn(strings.TrimRight(line, "\r\n")); err != nil {
			return offset, err
		}
	}
}

// Filter selects log lines by structured field. Empty fields match anything.
type Filter struct {
	SessionID string
	SegmentID string
	Component string
	// MinLevel drops lines below DEBUG/INFO/WARN/ERROR when set.
	MinLevel string
}

// Empty reports whether the filter matches every line.
func (f Filter) Empty() bool {
	return f.SessionID == "" && f.SegmentID == "" && f.Component == "" && f.MinLevel == ""
}

// Match reports whether line passes the filter. JSON lines are matched on
// their fields; console lines on key=value pairs and the level label.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
			return f.matchFields(func(key string) string {
				value, _ := record[key].(string)
				return value
			})
		}
	}
	return f.matchFields(func(key string) string { return consoleField(trimmed, key) })
}

func (f Filter) matchFields(field func(string) string) bool {
	if f.SessionID != "" && field("session_id") != f.SessionID {
		return false
	}
	if f.SegmentID != "" && field("segment_id") != f.SegmentID {
		return false
	}
	if f.Component != "" && field("component") != f.Component {
		return false
	}
	if f.MinLevel != "" && levelRank(field("level")) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

// consoleField extracts a field from a console line, which reads
// "<time> <LEVEL> <component>: <message> key=value ...".
func consoleField(line, key string) string {
	tokens := strings.Fields(line)
	switch key {
	case "level":
		if len(tokens) > 1 {
			return tokens[1]
		}
		return ""
	case "component":
		if len(tokens) > 2 && strings.HasSuffix(tokens[2], ":") {
			return strings.TrimSuffix(tokens[2], ":")
		}
		return ""
	}
	prefix := key + "="
	for _, token := range tokens {
		if strings.HasPrefix(token, prefix) {
			return strings.Trim(strings.TrimPrefix(token, prefix), `"`)
		}
	}
	return ""
}

func levelRank(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return 0
	case "INFO":
		return 1
	case "WARN", "WARNING":
		return 2
	case "ERROR":
		return 3
	default:
		return -1
	}
}
