package embedding

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/verdantlabs/leafid/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and model-less builds.
// It downsamples the image to an 8x8 thumbnail, hashes the pixels, and
// derives a unit-length vector from the hash so that the same image always
// gets the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEmbedder{dimensions: dimensions}
}

// EmbedImage returns a deterministic embedding derived from the image pixels.
func (e *MockEmbedder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	thumb := imaging.Resize(img, 8, 8, imaging.Box)
	var h uint64 = 14695981039346656037
	for _, p := range thumb.Pix {
		h ^= uint64(p)
		h *= 1099511628211
	}
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h%1024)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
