package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FileStore stores blobs as files under a root directory. An empty root
// resolves keys against the working directory, so absolute paths work too.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "file store %s", dir)
		}
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the filesystem path for key.
func (f *FileStore) Path(key string) string {
	p := filepath.FromSlash(key)
	if f.dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.dir, p)
}

// Get implements BlobStore.
func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "get %s", key)
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return data, nil
}

// Put implements BlobStore.
func (f *FileStore) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := f.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}
	return errors.Wrapf(os.WriteFile(path, body, 0o644), "put %s", key)
}

// List implements BlobStore. Returned keys are relative to the root.
func (f *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := f.dir
	if root == "" {
		root = "."
	}
	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements BlobStore. Deleting a missing key is not an error.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.Path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

var _ BlobStore = (*FileStore)(nil)
