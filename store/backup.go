package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const backupStamp = "20060102T150405Z"

// Backup copies the current content of a record set into the backup
// directory as <set>_<UTC timestamp>.json and returns the new path. A set
// that does not exist yet is not an error: nothing is created and the
// returned path is empty.
func (s *Store) Backup(set Set) (string, error) {
	src := s.Path(set)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := s.EnsureDirs(); err != nil {
		return "", err
	}

	unlock, err := lock(src)
	if err != nil {
		return "", err
	}
	defer unlock()

	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		// removed between the stat and the lock
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, dst, err := s.createBackupFile(set)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	return dst, nil
}

// createBackupFile picks a name that does not exist yet; two backups in the
// same second get a numeric suffix instead of overwriting each other.
func (s *Store) createBackupFile(set Set) (*os.File, string, error) {
	base := fmt.Sprintf("%s_%s", set, s.now().UTC().Format(backupStamp))
	for i := 0; ; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		dst := filepath.Join(s.BackupDir(), name)

		f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to create backup %s: %w", dst, err)
		}
		return f, dst, nil
	}
}

// Backups lists existing backup files for a set, sorted by name.
func (s *Store) Backups(set Set) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.BackupDir(), string(set)+"_*"+ext))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
