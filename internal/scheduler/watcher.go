package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/photonicat/inky_photo_frame/internal/pool"
)

const DEFAULT_RESTART_DELAY = 5 * time.Second

// BatchFunc receives a settled burst of uploads: the last one and the rest
// in arrival order.
type BatchFunc func(last string, others []string)

// Watcher reports new photos in a directory once uploads have settled.
type Watcher struct {
	dir          string
	settle       time.Duration
	restartDelay time.Duration
	onBatch      BatchFunc
	log          *slog.Logger

	mu      sync.Mutex
	pending []string
	timer   *time.Timer
}

func NewWatcher(dir string, settle time.Duration, onBatch BatchFunc, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:          dir,
		settle:       settle,
		restartDelay: DEFAULT_RESTART_DELAY,
		onBatch:      onBatch,
		log:          log,
	}
}

// Run watches until ctx is done, restarting the underlying watcher when it fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimer()
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("photo watcher stopped, restarting", "error", err, "delay", w.restartDelay)
		t := time.NewTimer(w.restartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create photos dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching photos", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !pool.IsPhoto(event.Name) {
				continue
			}
			w.add(filepath.Base(event.Name))
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			return err
		}
	}
}

// add records an upload and restarts the settle timer.
func (w *Watcher) add(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.pending, id) {
		w.pending = append(w.pending, id)
		w.log.Debug("photo upload detected", "photo", id)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.timer = nil
	w.mu.Unlock()

	// Renamed-away and deleted files drop out.
	batch = slices.DeleteFunc(batch, func(id string) bool {
		_, err := os.Stat(filepath.Join(w.dir, id))
		return err != nil
	})
	if len(batch) == 0 {
		return
	}
	last := batch[len(batch)-1]
	others := batch[:len(batch)-1]
	w.log.Info("uploads settled", "show", last, "queued", len(others))
	w.onBatch(last, others)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
