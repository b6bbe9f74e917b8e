package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStorage implements Storage interface using a local directory, for
// example a mounted network share.
type FileStorage struct {
	basePath string
}

// NewFileStorage creates a new file storage
func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileStorage{basePath: basePath}, nil
}

func (s *FileStorage) path(name string) string {
	return filepath.Join(s.basePath, filepath.Base(name))
}

// Save writes data to a temporary file and renames it into place.
func (s *FileStorage) Save(ctx context.Context, name string, data io.Reader, size int64) error {
	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write archive data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("failed to move archive file into place: %w", err)
	}
	return nil
}

// Load loads data from a file
func (s *FileStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	return file, nil
}

// List lists all files with the given prefix
func (s *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Delete deletes a file
func (s *FileStorage) Delete(ctx context.Context, name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
