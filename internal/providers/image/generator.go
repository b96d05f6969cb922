package image

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"storybook/internal/providers/genai"
)

// GenerateRequest is one illustration request. Prompt and NegativePrompt are
// built by the prompt synthesizer; Seed is chosen by the caller.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	AspectRatio    string
	References     []string
	RequestID      string
}

// Asset is a generated image held in memory until it is uploaded.
type Asset struct {
	Format string
	Width  int
	Height int
	Data   []byte
}

// Generator is the image-generation collaborator. Each call is a single attempt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

// RandomSeed picks a fresh generation seed in [1, MaxInt32].
func RandomSeed() int64 {
	return rand.Int64N(math.MaxInt32) + 1
}

// Renderer is the subset of the Gemini client used for images.
type Renderer interface {
	GenerateImage(ctx context.Context, req genai.ImageRequest) (*genai.ImageAsset, error)
}

// GeminiGenerator paces calls to the image model with a token bucket.
type GeminiGenerator struct {
	client  Renderer
	limiter *rate.Limiter
}

// NewGeminiGenerator allows perMinute calls per minute; zero or less disables pacing.
func NewGeminiGenerator(client Renderer, perMinute int) *GeminiGenerator {
	return &GeminiGenerator{client: client, limiter: newLimiter(perMinute)}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(1, perMinute/10))
}

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		AspectRatio:    req.AspectRatio,
		References:     req.References,
		RequestID:      req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	if asset == nil || len(asset.Data) == 0 {
		return nil, errors.New("image generator returned no data")
	}
	return &Asset{
		Format: asset.Format,
		Width:  asset.Width,
		Height: asset.Height,
		Data:   asset.Data,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
