package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events (editors write in steps).
const DefaultDebounce = 250 * time.Millisecond

// Watch syncs once, then re-syncs whenever the directory changes, until ctx
// is cancelled. The directory is created if missing so it can be watched.
func (s *Syncer) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating skills directory: %w", err)
	}
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Warn("initial skills sync failed", "error", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := s.addDirs(w); err != nil {
		w.Close()
		return err
	}

	go s.watchLoop(ctx, w, debounce)
	return nil
}

// addDirs watches the root and each per-skill subdirectory.
func (s *Syncer) addDirs(w *fsnotify.Watcher) error {
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

func (s *Syncer) watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("skills watcher error", "error", err)

		case <-timer.C:
			n, err := s.Sync(ctx)
			if err != nil {
				s.logger.Warn("skills sync failed", "error", err)
				continue
			}
			s.logger.Info("skills reloaded", "count", n)
		}
	}
}
