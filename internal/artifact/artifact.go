// Package artifact persists consolidated segment lists, one JSON object per video.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/snarg/vidsearch/internal/paths"
	"github.com/snarg/vidsearch/internal/segments"
	"github.com/snarg/vidsearch/internal/storage"
)

// ContentType of persisted artifacts.
const ContentType = "application/json"

// WriteError is returned when an artifact cannot be encoded or stored.
type WriteError struct {
	Ref paths.Ref
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Ref, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is returned when an artifact exists but cannot be read or decoded.
type ReadError struct {
	Ref paths.Ref
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read artifact %s: %v", e.Ref, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the artifact does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// Save writes result to target as indented JSON, replacing any existing artifact.
func Save(ctx context.Context, store storage.BlobStore, result segments.Result, target paths.Ref) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &WriteError{Ref: target, Err: err}
	}
	if err := store.Save(ctx, target, data, ContentType); err != nil {
		return &WriteError{Ref: target, Err: err}
	}
	return nil
}

// Load reads an artifact. A missing artifact returns an error matching
// storage.ErrNotFound rather than a *ReadError.
func Load(ctx context.Context, store storage.BlobStore, target paths.Ref) (segments.Result, error) {
	data, err := storage.ReadAll(ctx, store, target)
	if err != nil {
		if IsNotFound(err) {
			return segments.Result{}, fmt.Errorf("artifact %s: %w", target, storage.ErrNotFound)
		}
		return segments.Result{}, &ReadError{Ref: target, Err: err}
	}
	var result segments.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return segments.Result{}, &ReadError{Ref: target, Err: err}
	}
	return result, nil
}

// Exists reports whether an artifact is present at target.
func Exists(ctx context.Context, store storage.BlobStore, target paths.Ref) (bool, error) {
	ok, err := store.Exists(ctx, target)
	if err != nil {
		return false, &ReadError{Ref: target, Err: err}
	}
	return ok, nil
}
