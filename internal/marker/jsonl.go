package marker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONL appends events to a file, one JSON object per line. This is the
// markers.jsonl format the acquisition side tails during a run.
type JSONL struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewJSONL opens (or creates) the marker log at path, creating parent
// directories as needed. Events are appended, never truncated, so restarts
// within a session keep one continuous log.
func NewJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create marker log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open marker log: %w", err)
	}
	return &JSONL{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes ev as one line.
func (s *JSONL) Append(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("append marker: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
