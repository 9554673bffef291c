package specialist

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the registry whenever a definition file in its directory is
// created, written, removed or renamed. Bursts of events are coalesced. It
// blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.watchDir == "" {
		return ErrNotWatchable
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(r.watchDir); err != nil {
		return fmt.Errorf("watching %s: %w", r.watchDir, err)
	}
	r.logger.Info(ctx, "watching specialist definitions", zap.String("dir", r.watchDir))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&relevant == 0 || !strings.EqualFold(filepath.Ext(event.Name), ".md") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := r.Reload(ctx); err != nil {
				r.logger.Error(ctx, "reloading specialists", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn(ctx, "specialist watcher error", zap.Error(err))
		}
	}
}
