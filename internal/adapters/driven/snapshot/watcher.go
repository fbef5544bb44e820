package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ImportedSuffix is appended to a dropped file once its entries are in the
// store, so it is neither picked up again nor lost.
const ImportedSuffix = ".imported"

// Watcher imports snapshot files dropped into a directory.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	importer *Importer
	logger   *slog.Logger
	// done is closed when the event loop exits
	done chan struct{}
}

// NewWatcher creates a watcher on dir. Call Watch to start it.
func NewWatcher(dir string, importer *Importer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		dir:      dir,
		importer: importer,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Watch imports any files already waiting in the directory, then handles
// new ones in the background until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, defaultDirPermissions); err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to create import directory %s: %w", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to start watching import directory %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to read import directory %s: %w", w.dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.importFile(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}

	go w.loop(ctx)

	w.logger.Info("watching for snapshots", slog.String("dir", w.dir))
	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping snapshot watcher")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// only ops that can leave a complete file behind
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.importFile(ctx, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("snapshot watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	if _, ok := FormatFor(path); !ok {
		return
	}

	doc, err := ReadFile(path)
	if err != nil {
		// a file still being written fails here and is retried on its next write
		w.logger.Debug("snapshot not readable yet",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if len(doc) == 0 {
		// created but not written yet
		return
	}

	summary, err := w.importer.Import(ctx, doc)
	if err != nil {
		w.logger.Error("snapshot import failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	if err := os.Rename(path, path+ImportedSuffix); err != nil {
		w.logger.Warn("failed to mark snapshot as imported",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	w.logger.Info("imported snapshot",
		slog.String("path", path),
		slog.Int("created", summary.Created),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
}
