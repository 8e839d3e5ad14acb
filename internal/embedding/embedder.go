// Package embedding provides image embedding via ONNX and query-variant generation.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Register decoders for the formats record images arrive in.
	_ "image/jpeg"
	_ "image/png"
)

// Embedder produces vector embeddings for images. Implementations must be
// deterministic enough that the same image yields cosine-similar vectors
// across calls.
type Embedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
	Dimensions() int
	Close() error
}

// DecodeAndEmbed decodes raw image bytes (jpeg or png) and embeds them.
func DecodeAndEmbed(ctx context.Context, e Embedder, data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return e.EmbedImage(ctx, img)
}
