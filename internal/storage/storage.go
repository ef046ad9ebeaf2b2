// Package storage is the blob store used for raw videos, derived audio,
// transcription scratch output and persisted artifacts. Every object is
// addressed by a paths.Ref so gs:// and s3:// locations work the same way.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/config"
	"github.com/snarg/vidsearch/internal/paths"
)

// ErrNotFound is returned by Open when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is one entry of a listing.
type Object struct {
	Ref  paths.Ref
	Size int64
}

// Name returns the last path element of the object key.
func (o Object) Name() string {
	key := strings.TrimSuffix(o.Ref.Key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// BlobStore abstracts object storage backends.
type BlobStore interface {
	// Exists reports whether the object exists.
	Exists(ctx context.Context, ref paths.Ref) (bool, error)

	// Open returns a reader for the object, or ErrNotFound.
	Open(ctx context.Context, ref paths.Ref) (io.ReadCloser, error)

	// Save writes data, replacing any existing object.
	Save(ctx context.Context, ref paths.Ref, data []byte, contentType string) error

	// List returns every object whose key starts with prefix.Key, sorted by key.
	List(ctx context.Context, prefix paths.Ref) ([]Object, error)

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// ReadAll opens ref and reads it fully.
func ReadAll(ctx context.Context, store BlobStore, ref paths.Ref) ([]byte, error) {
	r, err := store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// New creates a BlobStore based on config.
func New(cfg *config.Config, log zerolog.Logger) (BlobStore, error) {
	switch cfg.StorageBackend {
	case "", "local":
		return NewLocalStore(cfg.LocalStorageDir), nil
	case "s3":
		if !cfg.S3.Enabled() {
			return nil, errors.New("S3 backend selected but S3_ACCESS_KEY / S3_SECRET_KEY are not set")
		}
		s3store, err := NewS3Store(cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("S3 init failed: %w", err)
		}
		if !cfg.S3.LocalCache {
			return s3store, nil
		}
		return NewTieredStore(s3store, NewLocalStore(cfg.LocalStorageDir), log), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Lazy is a process-scoped store handle created on first use and reused
// afterwards. A failed initialization is remembered and returned on every call.
type Lazy struct {
	init  func() (BlobStore, error)
	once  sync.Once
	store BlobStore
	err   error
}

// NewLazy wraps a store constructor.
func NewLazy(init func() (BlobStore, error)) *Lazy {
	return &Lazy{init: init}
}

// Get returns the store, constructing it on the first call.
func (l *Lazy) Get() (BlobStore, error) {
	l.once.Do(func() {
		l.store, l.err = l.init()
	})
	return l.store, l.err
}

func (l *Lazy) Exists(ctx context.Context, ref paths.Ref) (bool, error) {
	s, err := l.Get()
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, ref)
}

func (l *Lazy) Open(ctx context.Context, ref paths.Ref) (io.ReadCloser, error) {
	s, err := l.Get()
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, ref)
}

func (l *Lazy) Save(ctx context.Context, ref paths.Ref, data []byte, contentType string) error {
	s, err := l.Get()
	if err != nil {
		return err
	}
	return s.Save(ctx, ref, data, contentType)
}

func (l *Lazy) List(ctx context.Context, prefix paths.Ref) ([]Object, error) {
	s, err := l.Get()
	if err != nil {
		return nil, err
	}
	return s.List(ctx, prefix)
}

func (l *Lazy) Type() string {
	s, err := l.Get()
	if err != nil {
		return "unavailable"
	}
	return s.Type()
}
