package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore persists the daily record as JSON on local disk.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  Clock
}

// DefaultPath returns ~/.lynx-studio/usage.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".lynx-studio", "usage.json"), nil
}

// NewFileStore returns a store at path. A nil clock uses time.Now.
func NewFileStore(path string, now Clock) *FileStore {
	if now == nil {
		now = time.Now
	}
	return &FileStore{path: path, now: now}
}

func (s *FileStore) Read(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return 0, err
	}
	if rec.rollover(Today(s.now)) {
		if err := s.save(rec); err != nil {
			return 0, err
		}
	}
	return rec.Count, nil
}

func (s *FileStore) Increment(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	rec.rollover(Today(s.now))
	rec.Count++
	return s.save(rec)
}

// Load returns the stored record without applying rollover.
func (s *FileStore) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (Record, error) {
	var rec Record
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read usage file: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Corrupt usage file, starting from zero")
		return Record{}, nil
	}
	return rec, nil
}

// save writes through a temp file and rename so readers never see a partial record.
func (s *FileStore) save(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".usage-*.json")
	if err != nil {
		return fmt.Errorf("create temp usage file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write usage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close usage file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace usage file: %w", err)
	}
	return nil
}
