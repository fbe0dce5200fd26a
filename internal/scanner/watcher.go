package scanner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cloudkeep/drivesync/internal/catalogue"
)

// Watcher emits create/change/rename/delete events for one or more
// recursive source roots and keeps a Catalogue's local_entries/
// path_is_dir maps current without forcing a full rescan (spec §4.11,
// "Watcher"). Hashes are recomputed lazily on the next run or upload —
// the watcher only updates size/mtime/presence, never FastHash.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dirKeys  map[string]string // watched absolute dir -> its own catalogue path-key
	logger   *slog.Logger
	onChange func(pathKey string)
}

// NewWatcher starts watching every directory under each root recursively.
// onChange, if non-nil, is called after the Catalogue is updated for a
// given path-key — the controller uses it to avoid a full rescan.
func NewWatcher(roots []string, cat *catalogue.Catalogue, logger *slog.Logger, onChange func(pathKey string)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scanner: creating filesystem watcher: %w", err)
	}

	w := &Watcher{fsw: fsw, dirKeys: make(map[string]string), logger: logger, onChange: onChange}

	for _, root := range roots {
		rootClean := filepath.Clean(root)
		rootName := filepath.Base(rootClean)

		if err := filepath.WalkDir(root, func(absPath string, d os.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("scanner: walking %q for watcher setup: %w", absPath, err)
			}

			if !d.IsDir() {
				return nil
			}

			if err := fsw.Add(absPath); err != nil {
				return fmt.Errorf("scanner: watching %q: %w", absPath, err)
			}

			rel, err := filepath.Rel(rootClean, absPath)
			if err != nil {
				return fmt.Errorf("scanner: computing relative path for %q: %w", absPath, err)
			}

			if rel == "." {
				w.dirKeys[absPath] = rootName
			} else {
				w.dirKeys[absPath] = filepath.ToSlash(filepath.Join(rootName, rel))
			}

			return nil
		}); err != nil {
			fsw.Close() //nolint:errcheck

			return nil, err
		}
	}

	go w.run(cat)

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("scanner: closing watcher: %w", err)
	}

	return nil
}

func (w *Watcher) run(cat *catalogue.Catalogue) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(event, cat)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, cat *catalogue.Catalogue) {
	dir := filepath.Dir(event.Name)

	dirKey, watched := w.dirKeys[dir]
	if !watched {
		return
	}

	pathKey := filepath.ToSlash(filepath.Join(dirKey, filepath.Base(event.Name)))

	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		cat.DeleteLocal(pathKey)
		delete(w.dirKeys, event.Name) // no-op unless event.Name was itself a watched directory
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			// File vanished between the event and the stat — treat as a delete.
			cat.DeleteLocal(pathKey)
			break
		}

		if info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}

			w.dirKeys[event.Name] = pathKey
		}

		existing, _ := cat.GetLocal(pathKey)
		existing.AbsPath = event.Name
		existing.RelativeKey = pathKey
		existing.ParentKey = dirKey
		existing.IsFile = !info.IsDir()
		existing.Size = info.Size()
		existing.ModifiedAt = info.ModTime()

		if existing.CreatedAt.IsZero() {
			existing.CreatedAt = info.ModTime()
		}

		cat.PutLocal(pathKey, existing)
	}

	if w.onChange != nil {
		w.onChange(pathKey)
	}
}
