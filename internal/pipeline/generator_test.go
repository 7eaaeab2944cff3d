package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/momangi/Pompiconni-app/internal/providers/image"
)

type fakeImageProvider struct {
	generateFn func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error)
	requests   []image.GenerateRequest
}

func (f *fakeImageProvider) Generate(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
	f.requests = append(f.requests, req)
	return f.generateFn(ctx, req)
}

func TestGenerateAppendsStyleFloor(t *testing.T) {
	provider := &fakeImageProvider{
		generateFn: func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
			return []image.Asset{{Data: []byte("png-bytes"), Format: "png"}}, nil
		},
	}
	gen := NewImageCandidateGenerator(provider, zerolog.Nop())

	data, err := gen.Generate(context.Background(), "prompt dal composer", "run-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("data = %q", data)
	}
	sent := provider.requests[0]
	if !strings.HasPrefix(sent.Prompt, "prompt dal composer") {
		t.Fatalf("composed prompt should lead: %q", sent.Prompt)
	}
	if !strings.Contains(sent.Prompt, "STILE OBBLIGATORIO") {
		t.Fatalf("style floor missing from prompt: %q", sent.Prompt)
	}
	if sent.RequestID != "run-1" {
		t.Fatalf("request id = %q, want run-1", sent.RequestID)
	}
}

func TestGenerateNoAssetsIsErrNoImage(t *testing.T) {
	provider := &fakeImageProvider{
		generateFn: func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
			return nil, nil
		},
	}
	gen := NewImageCandidateGenerator(provider, zerolog.Nop())

	if _, err := gen.Generate(context.Background(), "prompt", "run-1"); !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestGenerateEmptyAssetIsErrNoImage(t *testing.T) {
	provider := &fakeImageProvider{
		generateFn: func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
			return []image.Asset{{Data: nil}}, nil
		},
	}
	gen := NewImageCandidateGenerator(provider, zerolog.Nop())

	if _, err := gen.Generate(context.Background(), "prompt", "run-1"); !errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestGenerateProviderErrorWrapped(t *testing.T) {
	provider := &fakeImageProvider{
		generateFn: func(ctx context.Context, req image.GenerateRequest) ([]image.Asset, error) {
			return nil, errors.New("400 invalid argument")
		},
	}
	gen := NewImageCandidateGenerator(provider, zerolog.Nop())

	_, err := gen.Generate(context.Background(), "prompt", "run-1")
	if err == nil || errors.Is(err, ErrNoImage) {
		t.Fatalf("err = %v, want the wrapped provider error", err)
	}
}
