package rulestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fluxrules/internal/logger"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher calls back after a rules file changes on disk. Bursts of events
// within the debounce interval produce a single callback.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   logger.Logger
}

func NewWatcher(path string, debounce time.Duration, log logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, logger: log}
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// that editors replacing the file by rename are still observed.
func (w *Watcher) Watch(ctx context.Context, onChange func(context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	w.logger.Infow("Rules file watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if err := onChange(ctx); err != nil {
			w.logger.ErrorwCtx(ctx, "Reload after file change failed", "path", w.path, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Rules file watcher stopped", "path", w.path)
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debugw("Rules file event", "path", event.Name, "op", event.Op.String())

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, fire)
			mu.Unlock()

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Errorw("Rules file watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
