package text

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storybook/internal/domain"
)

// StaticGenerator writes deterministic placeholder text. It is used when no
// Gemini key is configured so the pipeline can run end to end locally.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (s *StaticGenerator) Name() string { return staticProviderName }

func (s *StaticGenerator) Outline(ctx context.Context, job *domain.Job) (*domain.Outline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := cases.Title(language.English)
	hero := "the hero"
	if main := job.MainCharacter(); main != nil {
		hero = main.DisplayName()
	}
	theme := coalesce(job.Settings.Theme, "adventure")
	n := job.Settings.TargetSceneCount()
	outline := &domain.Outline{
		Title:      fmt.Sprintf("%s and the %s", hero, c.String(theme)),
		Dedication: "For every curious reader.",
		Scenes:     make([]domain.SceneSpec, 0, n),
	}
	for i := 1; i <= n; i++ {
		outline.Scenes = append(outline.Scenes, domain.SceneSpec{
			Number:           i,
			Title:            fmt.Sprintf("Chapter %d", i),
			Summary:          fmt.Sprintf("%s takes step %d of the %s.", hero, i, theme),
			SceneDescription: fmt.Sprintf("%s in a bright %s setting, moment %d", hero, theme, i),
		})
	}
	return outline, nil
}

func (s *StaticGenerator) SceneText(ctx context.Context, job *domain.Job, outline *domain.Outline, index int, previous []domain.SceneText) (*domain.SceneText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scene, ok := outline.Scene(index)
	if !ok {
		return nil, fmt.Errorf("scene index %d out of range", index)
	}
	text := scene.Summary
	if len(previous) > 0 && text != "" {
		text = "Then, " + strings.ToLower(text[:1]) + text[1:]
	}
	return &domain.SceneText{SceneNumber: scene.Number, SceneTitle: scene.Title, PageText: text}, nil
}

func (s *StaticGenerator) CharacterDescription(ctx context.Context, job *domain.Job, c domain.Character) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	parts := []string{c.DisplayName()}
	if c.Age != "" {
		parts = append(parts, "age "+c.Age)
	}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if c.ClothingStyle != "" {
		parts = append(parts, "wearing "+c.ClothingStyle)
	}
	return strings.Join(parts, ", "), nil
}

var _ Generator = (*StaticGenerator)(nil)
