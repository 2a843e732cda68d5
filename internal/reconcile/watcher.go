package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// partialSuffixes mark in-progress browser downloads; the real file appears
// once the browser renames it.
var partialSuffixes = []string{".crdownload", ".part", ".download", ".tmp"}

// Watcher reports files that finish appearing in the download directory. It
// backs up the browser's own download events: if the surface is torn down
// between download start and finish, the renamed file on disk is still seen.
type Watcher struct {
	dir    string
	log    *zap.Logger
	settle time.Duration
	onFile func(path string)
}

// NewWatcher creates a watcher over dir calling onFile for each completed file.
func NewWatcher(dir string, log *zap.Logger, onFile func(path string)) *Watcher {
	return &Watcher{dir: dir, log: log, settle: 500 * time.Millisecond, onFile: onFile}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create download watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if isPartial(event.Name) {
				continue
			}
			w.settleAndReport(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("download watcher error", zap.Error(err))
		}
	}
}

// settleAndReport waits for the file size to stop changing before reporting,
// since a rename can land before the final flush.
func (w *Watcher) settleAndReport(ctx context.Context, path string) {
	var lastSize int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.settle):
		}

		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			return
		}
		if info.Size() == lastSize {
			break
		}
		lastSize = info.Size()
	}

	w.log.Debug("download file settled", zap.String("path", path))
	w.onFile(path)
}

func isPartial(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
