package text

import (
	"context"

	"storybook/internal/domain"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
)

// Generator is the text-generation collaborator. Each call is a single
// attempt; retries belong to the caller.
type Generator interface {
	Outline(ctx context.Context, job *domain.Job) (*domain.Outline, error)
	SceneText(ctx context.Context, job *domain.Job, outline *domain.Outline, index int, previous []domain.SceneText) (*domain.SceneText, error)
	CharacterDescription(ctx context.Context, job *domain.Job, c domain.Character) (string, error)
	Name() string
}
