package image

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"storybook/internal/providers/qwen"
)

// QwenRenderer is the subset of the DashScope client used for images.
type QwenRenderer interface {
	GenerateImage(ctx context.Context, req qwen.ImageRequest) (*qwen.ImageAsset, error)
}

// QwenGenerator serves illustrations from Qwen with the same pacing as
// GeminiGenerator. Reference images are not supported by the model and are
// dropped.
type QwenGenerator struct {
	client  QwenRenderer
	limiter *rate.Limiter
}

func NewQwenGenerator(client QwenRenderer, perMinute int) *QwenGenerator {
	return &QwenGenerator{client: client, limiter: newLimiter(perMinute)}
}

func (g *QwenGenerator) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	asset, err := g.client.GenerateImage(ctx, qwen.ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           qwen.SizeForAspect(req.AspectRatio),
		Seed:           int(req.Seed),
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

var _ Generator = (*QwenGenerator)(nil)
