// Package checkpoint persists the time of the last sync cycle in a
// single plain-text file.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filmindex/filmsync/pkg/logger"
)

// Layout is the on-disk format, always in UTC.
const Layout = "2006-01-02 15:04:05"

// Epoch is what Load returns before anything was ever saved.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type Store struct {
	path string
	log  logger.Logger
	now  func() time.Time
}

type Option func(*Store)

func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithClock replaces time.Now for SaveNow.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		log:  logger.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the saved checkpoint. A missing file is created holding
// Epoch, and an empty file reads as Epoch.
func (s *Store) Load() (time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.Save(Epoch); err != nil {
			return time.Time{}, err
		}
		return Epoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		s.log.Info("checkpoint loaded", "at", Epoch.Format(Layout), "path", s.path)
		return Epoch, nil
	}

	t, err := time.ParseInLocation(Layout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse checkpoint %s: %w", s.path, err)
	}
	s.log.Info("checkpoint loaded", "at", raw, "path", s.path)
	return t, nil
}

// Save replaces the checkpoint with t, truncated to the second. The file is
// written next to the target, synced and renamed over it, so readers see
// either the old value or the new one.
func (s *Store) Save(t time.Time) error {
	value := t.UTC().Truncate(time.Second).Format(Layout)

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(value + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint %s: %w", s.path, err)
	}

	s.log.Info("checkpoint saved", "at", value, "path", s.path)
	return nil
}

// SaveNow saves the current wall-clock time and returns what was saved.
func (s *Store) SaveNow() (time.Time, error) {
	t := s.now().UTC().Truncate(time.Second)
	return t, s.Save(t)
}
