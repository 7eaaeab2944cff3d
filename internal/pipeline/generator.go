package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/providers/image"
)

// ErrNoImage is returned when the image model produced zero candidates. The
// orchestrator treats it as a retryable, attempt-consuming failure: an empty
// result cannot be scored.
var ErrNoImage = errors.New("pipeline: nessuna immagine generata dal modello")

// CandidateGenerator produces one raster candidate for a composed prompt.
type CandidateGenerator interface {
	Generate(ctx context.Context, prompt, runID string) ([]byte, error)
}

// ImageCandidateGenerator asks the image provider for exactly one candidate.
// The mandatory style floor is re-asserted verbatim on every call, regardless
// of what the composer produced.
type ImageCandidateGenerator struct {
	images image.Generator
	logger zerolog.Logger
}

// NewImageCandidateGenerator wires a candidate generator onto an image
// provider.
func NewImageCandidateGenerator(images image.Generator, logger zerolog.Logger) *ImageCandidateGenerator {
	return &ImageCandidateGenerator{images: images, logger: logger}
}

// Generate returns the raw bytes of one candidate, or ErrNoImage when the
// provider produced none.
func (g *ImageCandidateGenerator) Generate(ctx context.Context, prompt, runID string) ([]byte, error) {
	full := fmt.Sprintf("%s\n\n%s", prompt, styleFloor)

	assets, err := g.images.Generate(ctx, image.GenerateRequest{
		Prompt:    full,
		RequestID: runID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate candidate: %w", err)
	}
	if len(assets) == 0 || len(assets[0].Data) == 0 {
		return nil, ErrNoImage
	}

	g.logger.Debug().
		Str("run_id", runID).
		Int("bytes", len(assets[0].Data)).
		Msg("pipeline: candidate generated")

	return assets[0].Data, nil
}

var _ CandidateGenerator = (*ImageCandidateGenerator)(nil)
