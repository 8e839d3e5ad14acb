package catalog

import (
	"sync"

	"go.uber.org/zap"
)

// Loader performs one-shot catalog initialization. Search paths block on
// Catalog() until the artifact is loaded; unrelated startup work does not.
// A malformed or unreadable artifact degrades to an empty catalog and is
// logged once, never surfaced as an error.
type Loader struct {
	dimensions int
	open       func() ([]byte, error)
	logger     *zap.Logger

	once  sync.Once
	ready chan struct{}
	cat   *Catalog
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets a logger for load diagnostics.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a loader. open returns the artifact bytes (typically an
// os.ReadFile closure); a nil open means no bundled catalog and yields an
// empty catalog immediately.
func NewLoader(dimensions int, open func() ([]byte, error), opts ...LoaderOption) *Loader {
	ld := &Loader{
		dimensions: dimensions,
		open:       open,
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Start begins loading in the background. Optional: the first Catalog() call
// loads synchronously if Start was never called.
func (ld *Loader) Start() {
	go ld.once.Do(ld.load)
}

// Catalog returns the loaded catalog, blocking until initialization finishes.
func (ld *Loader) Catalog() *Catalog {
	ld.once.Do(ld.load)
	<-ld.ready
	return ld.cat
}

func (ld *Loader) load() {
	defer close(ld.ready)
	if ld.open == nil {
		ld.cat = NewEmpty(ld.dimensions)
		return
	}
	data, err := ld.open()
	if err == nil {
		var cat *Catalog
		cat, err = Load(data)
		if err == nil {
			ld.cat = cat
			if ld.logger != nil {
				ld.logger.Info("catalog loaded",
					zap.Int("entries", cat.Len()),
					zap.Int("dimensions", cat.Dimensions()),
				)
			}
			return
		}
	}
	if ld.logger != nil {
		ld.logger.Warn("catalog unavailable, degrading to empty", zap.Error(err))
	}
	ld.cat = NewEmpty(ld.dimensions)
}
