package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snarg/vidsearch/internal/paths"
)

// LocalStore keeps objects on the local filesystem at <root>/<bucket>/<key>.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local filesystem blob store.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Path returns the filesystem path backing ref.
func (s *LocalStore) Path(ref paths.Ref) string {
	return filepath.Join(s.root, ref.Bucket, filepath.FromSlash(ref.Key))
}

func (s *LocalStore) Save(ctx context.Context, ref paths.Ref, data []byte, contentType string) error {
	path := s.Path(ref)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, ref paths.Ref) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return f, err
}

func (s *LocalStore) Exists(ctx context.Context, ref paths.Ref) (bool, error) {
	info, err := os.Stat(s.Path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// List walks the bucket directory and returns regular files whose key starts
// with prefix.Key. Temp files from in-flight writes are skipped.
func (s *LocalStore) List(ctx context.Context, prefix paths.Ref) ([]Object, error) {
	bucketDir := filepath.Join(s.root, prefix.Bucket)

	// Walk from the deepest directory fully contained in the prefix.
	start := bucketDir
	if i := strings.LastIndex(prefix.Key, "/"); i >= 0 {
		start = filepath.Join(bucketDir, filepath.FromSlash(prefix.Key[:i]))
	}

	var out []Object
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".blob-") {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix.Key) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Ref: prefix.Child(key), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Key < out[j].Ref.Key })
	return out, nil
}

func (s *LocalStore) Type() string { return "local" }

// Root returns the storage root directory.
func (s *LocalStore) Root() string { return s.root }
