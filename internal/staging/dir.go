package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore keeps artifacts as files in one directory. Refs are file names.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// path confines ref to the staging directory.
func (s *DirStore) path(ref string) string {
	return filepath.Join(s.dir, filepath.Base(ref))
}

// Put writes through a temp file so a reader never sees a partial artifact.
// The commit is a hard link, which fails instead of replacing an existing
// artifact.
func (s *DirStore) Put(_ context.Context, name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}

	ref := filepath.Base(name)
	if err := os.Link(tmp.Name(), s.path(ref)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, ref)
		}
		return "", fmt.Errorf("failed to commit staging file: %w", err)
	}
	return ref, nil
}

func (s *DirStore) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staging file: %w", err)
	}
	return data, nil
}

func (s *DirStore) Delete(_ context.Context, ref string) error {
	err := os.Remove(s.path(ref))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to delete staging file: %w", err)
}
