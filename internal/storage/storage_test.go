package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/config"
	"github.com/snarg/vidsearch/internal/paths"
)

func ref(key string) paths.Ref {
	return paths.Ref{Scheme: "gs", Bucket: "media", Key: key}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	r := ref("processed_json/talk.json")
	ok, err := s.Exists(ctx, r)
	if err != nil || ok {
		t.Fatalf("Exists before save = %v, %v", ok, err)
	}

	if err := s.Save(ctx, r, []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ok, err = s.Exists(ctx, r)
	if err != nil || !ok {
		t.Fatalf("Exists after save = %v, %v", ok, err)
	}

	data, err := ReadAll(ctx, s, r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("data = %s", data)
	}

	// Overwrite replaces content.
	if err := s.Save(ctx, r, []byte("v2"), ""); err != nil {
		t.Fatal(err)
	}
	data, _ = ReadAll(ctx, s, r)
	if string(data) != "v2" {
		t.Errorf("after overwrite = %s", data)
	}
}

func TestLocalStoreOpenMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), ref("nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open err = %v, want ErrNotFound", err)
	}
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())
	for _, k := range []string{"raw/b.mp4", "raw/a.mp4", "raw/sub/c.mov", "audio/a.wav", "raw.txt"} {
		if err := s.Save(ctx, ref(k), []byte(k), ""); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("directory_prefix", func(t *testing.T) {
		objs, err := s.List(ctx, ref("raw/"))
		if err != nil {
			t.Fatal(err)
		}
		var keys []string
		for _, o := range objs {
			keys = append(keys, o.Ref.Key)
		}
		want := []string{"raw/a.mp4", "raw/b.mp4", "raw/sub/c.mov"}
		if len(keys) != len(want) {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
			}
		}
		if objs[0].Size != int64(len("raw/a.mp4")) {
			t.Errorf("Size = %d", objs[0].Size)
		}
		if objs[0].Name() != "a.mp4" {
			t.Errorf("Name = %q", objs[0].Name())
		}
	})

	t.Run("partial_prefix", func(t *testing.T) {
		objs, err := s.List(ctx, ref("raw"))
		if err != nil {
			t.Fatal(err)
		}
		if len(objs) != 4 {
			t.Errorf("len = %d, want 4 (raw/* plus raw.txt)", len(objs))
		}
	})

	t.Run("missing_prefix", func(t *testing.T) {
		objs, err := s.List(ctx, ref("processed_json/"))
		if err != nil {
			t.Fatal(err)
		}
		if len(objs) != 0 {
			t.Errorf("len = %d, want 0", len(objs))
		}
	})

	t.Run("other_bucket", func(t *testing.T) {
		objs, err := s.List(ctx, paths.Ref{Scheme: "gs", Bucket: "other", Key: ""})
		if err != nil {
			t.Fatal(err)
		}
		if len(objs) != 0 {
			t.Errorf("len = %d, want 0", len(objs))
		}
	})
}

// memStore is an in-memory BlobStore for tiered tests.
type memStore struct {
	objects map[string][]byte
	opens   atomic.Int32
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Exists(ctx context.Context, r paths.Ref) (bool, error) {
	_, ok := m.objects[r.String()]
	return ok, nil
}

func (m *memStore) Open(ctx context.Context, r paths.Ref) (io.ReadCloser, error) {
	m.opens.Add(1)
	data, ok := m.objects[r.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Save(ctx context.Context, r paths.Ref, data []byte, ct string) error {
	m.objects[r.String()] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) List(ctx context.Context, prefix paths.Ref) ([]Object, error) {
	return nil, nil
}

func (m *memStore) Type() string { return "mem" }

func TestTieredStoreCachesReads(t *testing.T) {
	ctx := context.Background()
	remote := newMemStore()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, zerolog.Nop())

	r := ref("raw/talk.mp4")
	remote.objects[r.String()] = []byte("video")

	for i := 0; i < 3; i++ {
		data, err := ReadAll(ctx, s, r)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "video" {
			t.Fatalf("data = %s", data)
		}
	}
	if got := remote.opens.Load(); got != 1 {
		t.Errorf("remote opens = %d, want 1", got)
	}
	if ok, _ := local.Exists(ctx, r); !ok {
		t.Error("object not mirrored locally")
	}
}

func TestTieredStoreSaveWritesBoth(t *testing.T) {
	ctx := context.Background()
	remote := newMemStore()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, zerolog.Nop())

	r := ref("audio/talk.wav")
	if err := s.Save(ctx, r, []byte("pcm"), "audio/wav"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := remote.Exists(ctx, r); !ok {
		t.Error("remote missing object")
	}
	if ok, _ := local.Exists(ctx, r); !ok {
		t.Error("local missing object")
	}
}

func TestLazyInitializesOnce(t *testing.T) {
	var calls atomic.Int32
	dir := t.TempDir()
	l := NewLazy(func() (BlobStore, error) {
		calls.Add(1)
		return NewLocalStore(dir), nil
	})

	if calls.Load() != 0 {
		t.Fatal("constructor ran before first use")
	}
	ctx := context.Background()
	_ = l.Save(ctx, ref("x"), []byte("1"), "")
	_, _ = l.Exists(ctx, ref("x"))
	_, _ = l.List(ctx, ref(""))
	if l.Type() != "local" {
		t.Errorf("Type = %q", l.Type())
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("constructor calls = %d, want 1", got)
	}
}

func TestLazyRemembersError(t *testing.T) {
	boom := errors.New("no credentials")
	var calls atomic.Int32
	l := NewLazy(func() (BlobStore, error) {
		calls.Add(1)
		return nil, boom
	})
	for i := 0; i < 2; i++ {
		if _, err := l.Exists(context.Background(), ref("x")); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("constructor calls = %d, want 1", calls.Load())
	}
}

func TestNewBackends(t *testing.T) {
	t.Run("local_default", func(t *testing.T) {
		s, err := New(&config.Config{LocalStorageDir: t.TempDir()}, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		if s.Type() != "local" {
			t.Errorf("Type = %q", s.Type())
		}
	})
	t.Run("s3_without_credentials", func(t *testing.T) {
		if _, err := New(&config.Config{StorageBackend: "s3"}, zerolog.Nop()); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("unknown", func(t *testing.T) {
		if _, err := New(&config.Config{StorageBackend: "ftp"}, zerolog.Nop()); err == nil {
			t.Error("expected error")
		}
	})
}
