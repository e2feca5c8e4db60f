package bundler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// ManifestWatcher reloads a bundler's manifests when the build output
// changes. Useful in preview mode where the process keeps running across
// rebuilds.
type ManifestWatcher struct {
	bundler *ViteBundler
	logger  logging.Logger
	// debounce collapses the burst of writes a build produces into one
	// reload.
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManifestWatcher returns a watcher for b's manifest files.
func NewManifestWatcher(b *ViteBundler, logger logging.Logger) *ManifestWatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ManifestWatcher{
		bundler:  b,
		logger:   logger.WithComponent("manifestwatcher"),
		debounce: 250 * time.Millisecond,
		timers:   map[string]*time.Timer{},
	}
}

// Run watches the build directories until ctx is cancelled.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := []string{w.bundler.buildDir}
	if w.bundler.serverBuildDir != "" {
		dirs = append(dirs, w.bundler.serverBuildDir)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			w.logger.Warn(ctx, err, "failed to watch build directory", "dir", dir)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != "manifest.json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, err, "manifest watcher error")
		}
	}
}

func (w *ManifestWatcher) scheduleReload(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.reload(ctx, path)
	})
}

func (w *ManifestWatcher) reload(ctx context.Context, path string) {
	manifest, err := LoadManifest(w.bundler.rootDir, path, w.logger)
	if err != nil {
		w.logger.Error(ctx, err, "failed to reload manifest", "path", path)
		return
	}
	w.bundler.setManifest(manifest, filepath.Dir(path) == w.bundler.serverBuildDir)
	w.logger.Info(ctx, "reloaded build manifest", "path", path)
}
