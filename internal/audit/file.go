package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink appends one line per event: "2006-01-02 15:04:05 | action | {json}".
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates the parent directory of path if needed.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	return &FileSink{path: path}, nil
}

// FormatLine renders ev the way it is written to the log file.
func FormatLine(ev Event) (string, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return fmt.Sprintf("%s | %s | %s\n", ev.Time.Format("2006-01-02 15:04:05"), ev.Action, payload), nil
}

func (s *FileSink) Record(_ context.Context, ev Event) error {
	line, err := FormatLine(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

// Tail returns the newest n lines, newest first. A missing file yields no lines.
func (s *FileSink) Tail(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}

	out := make([]string, len(ring))
	for i, line := range ring {
		out[len(ring)-1-i] = line
	}
	return out, nil
}
