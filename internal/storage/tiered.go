package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
)

// TieredStore puts a local mirror in front of a remote store.
// Write path: remote first (source of truth), then the local mirror.
// Read path: local first, remote fallback with cache-on-read.
type TieredStore struct {
	remote BlobStore
	local  *LocalStore
	log    zerolog.Logger
}

// NewTieredStore creates a remote-primary store with a local read cache.
func NewTieredStore(remote BlobStore, local *LocalStore, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote: remote,
		local:  local,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save writes to the remote store (fatal on failure), then the mirror (warning on failure).
func (s *TieredStore) Save(ctx context.Context, ref paths.Ref, data []byte, ct string) error {
	if err := s.remote.Save(ctx, ref, data, ct); err != nil {
		return err
	}
	if err := s.local.Save(ctx, ref, data, ct); err != nil {
		s.log.Warn().Err(err).Str("ref", ref.String()).Msg("local mirror write failed")
	}
	return nil
}

// Open checks the local mirror first, then falls back to the remote store.
// On a remote hit, the object is cached locally for future reads.
func (s *TieredStore) Open(ctx context.Context, ref paths.Ref) (io.ReadCloser, error) {
	if r, err := s.local.Open(ctx, ref); err == nil {
		return r, nil
	}
	r, err := s.remote.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	if cacheErr := s.local.Save(ctx, ref, data, ""); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("ref", ref.String()).Msg("failed to cache object locally")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists consults the remote store only; the mirror may hold stale entries.
func (s *TieredStore) Exists(ctx context.Context, ref paths.Ref) (bool, error) {
	return s.remote.Exists(ctx, ref)
}

// List is served by the remote store.
func (s *TieredStore) List(ctx context.Context, prefix paths.Ref) ([]Object, error) {
	return s.remote.List(ctx, prefix)
}

func (s *TieredStore) Type() string { return "tiered" }
