// Package watcher syncs a record drop directory into the store: YAML record
// files written by the sync layer are parsed and upserted, removed files
// delete their records.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/records"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches one directory of record files and applies changes through
// the record service.
type Watcher struct {
	root       string
	extensions []string
	service    *records.Service
	debounce   time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	// keys remembers the natural key last upserted per file path, so removing
	// a file whose YAML declared an explicit natural_key deletes the right
	// record instead of the filename-derived one.
	keys     map[string]string
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for file events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-coalescing delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over root for files matching extensions
// (empty = all).
func NewWatcher(root string, extensions []string, svc *records.Service, opts ...Option) *Watcher {
	w := &Watcher{
		root:        root,
		extensions:  extensions,
		service:     svc,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		keys:        make(map[string]string),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The root is created if missing. Runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		if err := os.MkdirAll(w.root, 0755); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.root); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.String("root", w.root), zap.Strings("extensions", w.extensions))
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	if !w.matchExtension(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.debounceUpsert(ctx, path)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		w.remove(ctx, path)
	}
}

// debounceUpsert coalesces rapid writes to the same file (editors and sync
// clients write in bursts) before parsing it.
func (w *Watcher) debounceUpsert(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.upsert(ctx, path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

func (w *Watcher) upsert(ctx context.Context, path string) {
	in, err := models.ParseRecordFile(path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("record file rejected", zap.String("path", path), zap.Error(err))
		}
		return
	}
	// Relative image paths resolve next to the record file.
	if in.ImagePath != "" && !filepath.IsAbs(in.ImagePath) {
		in.ImagePath = filepath.Join(filepath.Dir(path), in.ImagePath)
	}
	if in.NaturalKey == "" {
		in.NaturalKey = naturalKeyForPath(path)
	}
	if _, err := w.service.Upsert(ctx, in); err != nil {
		if w.logger != nil {
			w.logger.Warn("record upsert failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	w.mu.Lock()
	w.keys[path] = in.NaturalKey
	w.mu.Unlock()
}

func (w *Watcher) remove(ctx context.Context, path string) {
	// The file is gone; use the key from its last successful upsert, falling
	// back to the filename-derived one for files never seen.
	w.mu.Lock()
	key, ok := w.keys[path]
	delete(w.keys, path)
	w.mu.Unlock()
	if !ok {
		key = naturalKeyForPath(path)
	}
	if err := w.service.DeleteByNaturalKey(ctx, key); err != nil && w.logger != nil {
		w.logger.Warn("record delete failed", zap.String("path", path), zap.Error(err))
	}
}

// naturalKeyForPath derives the fallback natural key from the file name stem,
// so "monstera_deliciosa.yaml" maps to "monstera-deliciosa".
func naturalKeyForPath(path string) string {
	base := filepath.Base(path)
	return models.Slugify(strings.TrimSuffix(base, filepath.Ext(base)))
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == strings.TrimPrefix(ext, ".") {
			return true
		}
	}
	return false
}

// SyncExisting upserts every matching file already present in the root.
// Call after Start to pick up files dropped while the process was down.
func (w *Watcher) SyncExisting(ctx context.Context) {
	filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.matchExtension(path) {
			w.upsert(ctx, path)
		}
		return nil
	})
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
