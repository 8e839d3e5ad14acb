package embedding

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// VariantKind distinguishes the whole-frame query from zoomed re-crops.
type VariantKind int

const (
	// VariantPrimary is the unmodified image.
	VariantPrimary VariantKind = iota
	// VariantZoomed is a center crop re-embedded at a zoom level, a fallback
	// for subjects occupying a small fraction of the frame.
	VariantZoomed
)

// QueryVector is one candidate query embedding for a single identification
// call. Never persisted.
type QueryVector struct {
	Values []float32
	Kind   VariantKind
	// Zoom is the center-zoom factor; 1 for the primary variant.
	Zoom float64
}

// VariantStream lazily produces query variants in priority order: the
// unmodified image first, then one center-zoom crop per configured level.
// Laziness matters: when the whole-frame view already yields a confident
// match, the zoomed crops are never embedded at all.
type VariantStream struct {
	embedder Embedder
	img      image.Image
	zooms    []float64
	next     int
	logger   *zap.Logger
}

// NewVariantStream creates a stream over img with the given zoom levels.
func NewVariantStream(e Embedder, img image.Image, zoomLevels []float64, logger *zap.Logger) *VariantStream {
	return &VariantStream{embedder: e, img: img, zooms: zoomLevels, logger: logger}
}

// Next embeds and returns the next variant. A variant whose embedding fails
// is skipped, not fatal. ok is false when the stream is exhausted.
func (s *VariantStream) Next(ctx context.Context) (v QueryVector, ok bool) {
	for s.next <= len(s.zooms) {
		i := s.next
		s.next++
		if i == 0 {
			vec, err := s.embedder.EmbedImage(ctx, s.img)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("primary variant embedding failed", zap.Error(err))
				}
				continue
			}
			return QueryVector{Values: vec, Kind: VariantPrimary, Zoom: 1}, true
		}
		zoom := s.zooms[i-1]
		vec, err := s.embedder.EmbedImage(ctx, CenterZoom(s.img, zoom))
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("zoom variant embedding failed", zap.Float64("zoom", zoom), zap.Error(err))
			}
			continue
		}
		return QueryVector{Values: vec, Kind: VariantZoomed, Zoom: zoom}, true
	}
	return QueryVector{}, false
}

// CenterZoom returns a center crop of img scaled down by the zoom factor
// (zoom 2 keeps the middle half in each dimension). Zoom <= 1 returns the
// image unchanged.
func CenterZoom(img image.Image, zoom float64) image.Image {
	if zoom <= 1 {
		return img
	}
	b := img.Bounds()
	w := int(float64(b.Dx()) / zoom)
	h := int(float64(b.Dy()) / zoom)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.CropCenter(img, w, h)
}
