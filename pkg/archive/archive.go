package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"camstream/pkg/retry"

	"go.uber.org/zap"
)

// ErrNotFound is returned by storages when an object does not exist.
var ErrNotFound = errors.New("archive object not found")

// Storage defines interface for archive storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader, size int64) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Archiver copies finalized recordings into long-term storage.
type Archiver struct {
	storage Storage
	retry   retry.Config
	logger  *zap.SugaredLogger
}

func NewArchiver(storage Storage, retryCfg retry.Config, logger *zap.SugaredLogger) *Archiver {
	retryCfg.NonRetryableErrors = append(retryCfg.NonRetryableErrors, os.ErrNotExist)
	return &Archiver{
		storage: storage,
		retry:   retryCfg,
		logger:  logger,
	}
}

// ArchiveFiles uploads each local file under its base name. Files are
// uploaded in order and the first failure stops the run.
func (a *Archiver) ArchiveFiles(ctx context.Context, paths ...string) ([]string, error) {
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		err := retry.Retry(ctx, a.retry, func(ctx context.Context) error {
			return a.upload(ctx, path, name)
		})
		if err != nil {
			return names, fmt.Errorf("failed to archive %s: %w", path, err)
		}
		a.logger.Infow("archived recording file", "path", path, "name", name)
		names = append(names, name)
	}
	return names, nil
}

func (a *Archiver) upload(ctx context.Context, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	return a.storage.Save(ctx, name, file, info.Size())
}

// ListRecordings lists archived recording files, manifests excluded.
func (a *Archiver) ListRecordings(ctx context.Context) ([]string, error) {
	names, err := a.storage.List(ctx, "broadcast-")
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !strings.HasSuffix(n, ".json") {
			out = append(out, n)
		}
	}
	return out, nil
}

// Fetch opens an archived object.
func (a *Archiver) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	return a.storage.Load(ctx, name)
}

// Remove deletes an archived recording and its manifest, if present.
func (a *Archiver) Remove(ctx context.Context, name string) error {
	if err := a.storage.Delete(ctx, name); err != nil {
		return err
	}
	manifest := strings.TrimSuffix(name, filepath.Ext(name)) + ".json"
	if err := a.storage.Delete(ctx, manifest); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
