package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher event kinds.
const (
	FileCreated = "created"
	FileRemoved = "removed"
)

// EventCallback is called for each file that appears in or leaves the
// storage root. path is relative to the root, slash-separated.
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on root and reports file changes until
// ctx is cancelled. New directories created at runtime are added to the
// watch list and their existing files reported as created. Temporary upload
// files are ignored.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	emit := func(kind, abs string) {
		if IsTemp(filepath.Base(abs)) {
			return
		}
		rel, relErr := filepath.Rel(root, abs)
		if relErr != nil {
			return
		}
		rel = filepath.ToSlash(rel)
		logger.Debug("watcher: event", slog.String("path", rel), slog.String("op", kind))
		if cb != nil {
			cb(kind, rel)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			switch {
			case ev.Op&fsnotify.Create != 0:
				info, statErr := os.Lstat(absPath)
				if statErr != nil {
					continue
				}
				if info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
						continue
					}
					// Files may have landed before the watch was added.
					_ = filepath.WalkDir(absPath, func(p string, d fs.DirEntry, err error) error {
						if err == nil && d.Type().IsRegular() {
							emit(FileCreated, p)
						}
						return nil
					})
					continue
				}
				if info.Mode().IsRegular() {
					emit(FileCreated, absPath)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create.
				emit(FileRemoved, absPath)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
