package image

import "context"

// GenerateRequest describes a normalized request passed to an image provider.
// The prompt is expected to be fully composed: providers do not rewrite it.
type GenerateRequest struct {
	Prompt    string
	RequestID string
}

// Asset represents one generated raster image.
type Asset struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Generator is the contract implemented by all image providers. A provider
// may legitimately return zero assets; deciding whether that is fatal belongs
// to the caller.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Asset, error)
}
