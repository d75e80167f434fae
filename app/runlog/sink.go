// Package runlog keeps the operator-facing, append-only ingestion log.
package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

type Sink struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Sink{path: path, now: time.Now}, nil
}

func (s *Sink) Path() string {
	return s.path
}

func (s *Sink) OK(source string, found, added, skipped, total int, duration time.Duration) error {
	return s.write(source, fmt.Sprintf("OK: found=%d new=%d skipped=%d total=%d duration=%.2fs",
		found, added, skipped, total, duration.Seconds()))
}

func (s *Sink) Fatal(source, message string) error {
	return s.write(source, "FATAL: "+message)
}

func (s *Sink) Error(source, message string) error {
	return s.write(source, "ERROR: "+message)
}

func (s *Sink) write(source, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] [%s] %s\n", s.now().Format(timestampLayout), source, message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}

	return nil
}

// Tail returns up to n of the most recent lines, oldest first.
func (s *Sink) Tail(n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	return lines, nil
}
