package config

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports edits to content files under a set of directories.
//
// A burst of events is coalesced: OnChange runs once after Debounce has
// passed with no further relevant event.
type Watcher struct {
	dirs     []string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a Watcher over dirs and every directory beneath them.
//
// Precondition: logger must be non-nil; debounce must not be negative.
func NewWatcher(dirs []string, debounce time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		panic("config.NewWatcher: logger must be non-nil")
	}
	if debounce < 0 {
		panic("config.NewWatcher: debounce must not be negative")
	}
	return &Watcher{dirs: append([]string(nil), dirs...), debounce: debounce, logger: logger}
}

// Run watches until ctx is cancelled, calling onChange with the paths changed
// in each coalesced burst.
//
// Postcondition: Returns nil on cancellation, or the setup error.
func (w *Watcher) Run(ctx context.Context, onChange func(paths []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.dirs {
		if dir == "" {
			continue
		}
		if err := addTree(fw, dir); err != nil {
			return err
		}
	}
	w.logger.Info("watching content", zap.Strings("dirs", w.dirs), zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !isContentFile(event.Name) {
				continue
			}
			w.logger.Debug("content event", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("content watcher error", zap.Error(err))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			onChange(paths)
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func isContentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".lua":
		return true
	}
	return false
}
