// Package localfs stores blobs as files under a root directory. Writes go
// through a temp file and a rename, serialized per key by a file lock so
// two local processes never interleave partial writes.
package localfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

const lockDir = ".locks"

// Store implements ports.Store on the local filesystem.
type Store struct {
	root string
}

var _ ports.Store = (*Store)(nil)

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Provider() string { return "localfs" }

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Validationf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if d.Name() == lockDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, ".tmp") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "localfs.list", "walk "+s.root)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound("blob", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "localfs.get", "read "+key)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "localfs.set", "create dir")
	}

	lock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "localfs.set", "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "localfs.set", "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "localfs.set", "close temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "localfs.set", "rename into place")
	}
	return nil
}

func (s *Store) lock(ctx context.Context, key string) (*flock.Flock, error) {
	dir := filepath.Join(s.root, lockDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "localfs.lock", "create lock dir")
	}
	name := strings.ReplaceAll(key, "/", "_") + ".lock"
	l := flock.New(filepath.Join(dir, name))
	ok, err := l.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, errors.Wrap(err, "localfs.lock", "lock "+key)
	}
	if !ok {
		return nil, errors.New(errors.CodeTimeout, "lock not acquired: "+key)
	}
	return l, nil
}
