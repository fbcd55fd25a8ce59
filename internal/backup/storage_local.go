package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalArchiveStore mirrors archives into a second directory, typically a
// network mount
type LocalArchiveStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalArchiveStore creates a new LocalArchiveStore instance
func NewLocalArchiveStore(config *LocalConfig) (*LocalArchiveStore, error) {
	if config == nil || config.BasePath == "" {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	perm := config.Permissions
	if perm == 0 {
		perm = 0755
	}

	store := &LocalArchiveStore{basePath: config.BasePath, permissions: perm}
	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}
	return store, nil
}

func (ls *LocalArchiveStore) Provider() StorageProviderType { return StorageProviderLocal }

// Put copies r into the base directory through a temp file and rename
func (ls *LocalArchiveStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	target, err := ls.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(ls.basePath, ".upload-*")
	if err != nil {
		return "", NewStorageError("failed to create temporary file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", NewStorageError(fmt.Sprintf("failed to copy archive %s", name), err)
	}
	if err := tmp.Close(); err != nil {
		return "", NewStorageError("failed to close temporary file", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to store archive %s", name), err)
	}
	return target, nil
}

func (ls *LocalArchiveStore) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	target, err := ls.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("archive %s not found", name), err)
	}
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to open archive %s", name), err)
	}
	return f, nil
}

func (ls *LocalArchiveStore) Delete(ctx context.Context, name string) error {
	target, err := ls.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewStorageError(fmt.Sprintf("failed to delete archive %s", name), err)
	}
	return nil
}

// ParseLocation accepts paths inside the base directory
func (ls *LocalArchiveStore) ParseLocation(location string) (string, bool) {
	if filepath.Dir(filepath.Clean(location)) != filepath.Clean(ls.basePath) {
		return "", false
	}
	return filepath.Base(location), true
}

// GetBasePath returns the base path used for storage
func (ls *LocalArchiveStore) GetBasePath() string {
	return ls.basePath
}

// path resolves name inside the base directory and rejects traversal
func (ls *LocalArchiveStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", NewValidationError(fmt.Sprintf("invalid archive name %q", name), nil)
	}
	return filepath.Join(ls.basePath, name), nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
