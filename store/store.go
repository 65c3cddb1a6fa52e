package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/bskygeo/listkeeper/models"
)

// ErrCorrupt is returned when a record set on disk cannot be parsed.
// The store never tries to repair such a file.
var ErrCorrupt = errors.New("record set is corrupt")

// Set names one of the record sets kept under the data root.
type Set string

const (
	SetConfig     Set = "config"
	SetMembers    Set = "members"
	SetCandidates Set = "candidates"
)

const (
	cacheDir  = "crawl_cache"
	backupDir = "backups"
	ext       = ".json"
)

type Store struct {
	root string
	now  func() time.Time

	follows *FollowCache
}

type Option func(*Store)

// WithClock overrides the clock used for backup names and cache stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(root string, opts ...Option) *Store {
	s := &Store{
		root: root,
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.follows = newFollowCache(s)
	return s
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Path(set Set) string {
	return filepath.Join(s.root, string(set)+ext)
}

func (s *Store) BackupDir() string {
	return filepath.Join(s.root, backupDir)
}

func (s *Store) FollowCache() *FollowCache {
	return s.follows
}

// EnsureDirs creates the data root, the crawl cache and the backup
// directories. Calling it again is a no-op.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.root, filepath.Join(s.root, cacheDir), s.BackupDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Load decodes the named record set into v. A missing or blank file leaves
// v untouched.
func (s *Store) Load(set Set, v any) error {
	_, err := s.loadFile(s.Path(set), v)
	return err
}

// Save replaces the named record set with v.
func (s *Store) Save(set Set, v any) error {
	return s.saveFile(s.Path(set), v)
}

// loadFile reports whether there was any content to decode.
func (s *Store) loadFile(path string, v any) (bool, error) {
	if err := s.EnsureDirs(); err != nil {
		return false, err
	}

	unlock, err := lock(path)
	if err != nil {
		return false, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return true, nil
}

func (s *Store) saveFile(path string, v any) error {
	if err := s.EnsureDirs(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	data = append(data, '\n')

	unlock, err := lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	// temp file, fsync, rename: a crash leaves either the old or the new
	// content, never a truncated file
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	if err := s.Load(SetConfig, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveSettings(settings *models.Settings) error {
	return s.Save(SetConfig, settings)
}

func (s *Store) LoadMembers() (models.Members, error) {
	members := models.Members{}
	if err := s.Load(SetMembers, &members); err != nil {
		return nil, err
	}
	if members == nil {
		members = models.Members{}
	}
	return members, nil
}

func (s *Store) SaveMembers(members models.Members) error {
	return s.Save(SetMembers, members)
}

func (s *Store) LoadCandidates() (models.Candidates, error) {
	candidates := models.Candidates{}
	if err := s.Load(SetCandidates, &candidates); err != nil {
		return nil, err
	}
	if candidates == nil {
		candidates = models.Candidates{}
	}
	return candidates, nil
}

func (s *Store) SaveCandidates(candidates models.Candidates) error {
	return s.Save(SetCandidates, candidates)
}
