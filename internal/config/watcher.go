package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aatumaykin/sweepbot/internal/logger"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the Store when the config file changes on disk.
// The parent directory is watched because editors and atomicfile replace the
// file by rename.
type Watcher struct {
	store    *Store
	debounce time.Duration
	onReload func(ReloadResult)
	logger   *logger.Logger
}

// NewWatcher creates a watcher. onReload is called after every successful
// reload.
func NewWatcher(store *Store, debounce time.Duration, onReload func(ReloadResult), log *logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		store:    store,
		debounce: debounce,
		onReload: onReload,
		logger:   log.Component("config_watcher"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	target := filepath.Clean(w.store.Path())
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	// Перезагрузка выполняется в этой горутине: после возврата Run колбэков больше нет
	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("config watcher started", logger.Field{Key: "path", Value: target})

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-fire:
			w.reload()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", err)
		}
	}
}

func (w *Watcher) reload() {
	result, err := w.store.Reload()
	if err != nil {
		w.logger.Error("config reload failed", err)
		return
	}
	if w.onReload != nil {
		w.onReload(result)
	}
}
