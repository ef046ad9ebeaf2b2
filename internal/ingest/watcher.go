package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/vidsearch/internal/paths"
)

// Enqueuer accepts video refs for processing.
type Enqueuer interface {
	Enqueue(ref string) bool
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Dir is the local directory holding the bucket's raw/ objects.
	Dir string
	// Bucket is used to turn file paths into video refs.
	Bucket paths.Ref
	Queue  Enqueuer
	// Backfill enqueues videos already present at start. Videos with a
	// transcript are skipped by the pipeline.
	Backfill bool
	// Debounce is how long a file must stay quiet before it is queued. Default 2s.
	Debounce time.Duration
	Log      zerolog.Logger
}

// WatcherStatus is reported on the health endpoint.
type WatcherStatus struct {
	Status       string `json:"status"`
	WatchDir     string `json:"watch_dir"`
	FilesQueued  int64  `json:"files_queued"`
	FilesSkipped int64  `json:"files_skipped"`
}

// Watcher monitors a local raw/ directory for new video files and queues them.
// It gives local deployments the same trigger a bucket notification would.
type Watcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce: coalesce the Create+Write stream of a large upload.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesQueued  atomic.Int64
	filesSkipped atomic.Int64
	status       atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	w := &Watcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}
	w.status.Store("starting")
	return w
}

// Start adds every directory under Dir to the watch set and begins watching.
// Dir is created if missing.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	dirCount := 0
	err = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := fw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.opts.Dir).
		Msg("file watcher initialized")

	ctx, w.cancel = context.WithCancel(ctx)
	go w.watchLoop(ctx)

	if w.opts.Backfill {
		w.backfill()
	}
	w.status.Store("watching")
	return nil
}

// Stop closes the fsnotify watcher and drops pending debounce timers.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}

	w.debounceMu.Lock()
	for p, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, p)
	}
	w.debounceMu.Unlock()

	w.log.Info().
		Int64("files_queued", w.filesQueued.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (w *Watcher) Status() WatcherStatus {
	s, _ := w.status.Load().(string)
	return WatcherStatus{
		Status:       s,
		WatchDir:     w.opts.Dir,
		FilesQueued:  w.filesQueued.Load(),
		FilesSkipped: w.filesSkipped.Load(),
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					w.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !w.candidate(event.Name) {
				continue
			}
			w.scheduleEnqueue(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// candidate filters out temp files and unsupported extensions.
func (w *Watcher) candidate(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if !paths.IsSupported(path) {
		w.filesSkipped.Add(1)
		w.log.Debug().Str("path", path).Msg("ignoring unsupported file")
		return false
	}
	return true
}

// scheduleEnqueue waits until the file has been quiet for the debounce
// interval so uploads are complete before the pipeline reads them.
func (w *Watcher) scheduleEnqueue(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	ref, ok := w.refFor(path)
	if !ok {
		w.filesSkipped.Add(1)
		return
	}
	if !w.opts.Queue.Enqueue(ref) {
		w.log.Warn().Str("video", ref).Msg("ingest queue full or video already queued")
		w.filesSkipped.Add(1)
		return
	}
	w.filesQueued.Add(1)
	w.log.Info().Str("video", ref).Msg("video queued")
}

// refFor maps a file under Dir to its video ref.
func (w *Watcher) refFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		w.log.Warn().Str("path", path).Msg("file outside watch directory")
		return "", false
	}
	return w.opts.Bucket.Child(paths.RawDir + filepath.ToSlash(rel)).String(), true
}

// backfill queues supported videos already present under Dir.
func (w *Watcher) backfill() {
	w.status.Store("backfilling")
	start := time.Now()
	var queued int
	_ = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !w.candidate(path) {
			return nil
		}
		w.enqueue(path)
		queued++
		return nil
	})
	w.log.Info().
		Int("files", queued).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}
