package text

import (
	"context"
	"fmt"
	"strings"

	"storybook/internal/domain"
	"storybook/internal/prompt"
	"storybook/internal/providers/genai"
)

// Completer is the subset of the Gemini client used for text.
type Completer interface {
	GenerateText(ctx context.Context, req genai.TextRequest) (string, error)
}

// GeminiGenerator produces outlines, page text and character descriptions.
type GeminiGenerator struct {
	client Completer
}

func NewGeminiGenerator(client Completer) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Name() string { return geminiProviderName }

type outlinePayload struct {
	Title      string             `json:"title"`
	Dedication string             `json:"dedication"`
	Scenes     []domain.SceneSpec `json:"scenes"`
}

func (g *GeminiGenerator) Outline(ctx context.Context, job *domain.Job) (*domain.Outline, error) {
	p := prompt.OutlinePrompt(job)
	raw, err := g.client.GenerateText(ctx, genai.TextRequest{System: p.System, Prompt: p.User, JSON: true, Temperature: 0.8})
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelPayload[outlinePayload](raw)
	if err != nil {
		return nil, fmt.Errorf("parse outline: %w", err)
	}
	outline := &domain.Outline{
		Title:      prompt.TitleCase(parsed.Title, prompt.Language(job.Settings)),
		Dedication: strings.TrimSpace(parsed.Dedication),
		Scenes:     make([]domain.SceneSpec, 0, len(parsed.Scenes)),
	}
	for i, s := range parsed.Scenes {
		s.Number = i + 1
		s.Title = strings.TrimSpace(s.Title)
		s.Summary = strings.TrimSpace(s.Summary)
		s.SceneDescription = coalesce(s.SceneDescription, s.Summary)
		outline.Scenes = append(outline.Scenes, s)
	}
	return outline, nil
}

type scenePayload struct {
	SceneTitle string `json:"sceneTitle"`
	PageText   string `json:"pageText"`
}

func (g *GeminiGenerator) SceneText(ctx context.Context, job *domain.Job, outline *domain.Outline, index int, previous []domain.SceneText) (*domain.SceneText, error) {
	scene, ok := outline.Scene(index)
	if !ok {
		return nil, fmt.Errorf("scene index %d out of range", index)
	}
	p := prompt.ScenePrompt(job, outline, index, previous)
	raw, err := g.client.GenerateText(ctx, genai.TextRequest{System: p.System, Prompt: p.User, JSON: true, Temperature: 0.7})
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelPayload[scenePayload](raw)
	if err != nil {
		return nil, fmt.Errorf("parse scene text: %w", err)
	}
	page := strings.TrimSpace(parsed.PageText)
	if page == "" {
		return nil, fmt.Errorf("scene %d: empty page text", scene.Number)
	}
	return &domain.SceneText{
		SceneNumber: scene.Number,
		SceneTitle:  coalesce(parsed.SceneTitle, scene.Title),
		PageText:    page,
	}, nil
}

func (g *GeminiGenerator) CharacterDescription(ctx context.Context, job *domain.Job, c domain.Character) (string, error) {
	p := prompt.CharacterDescriptionPrompt(c, job.ArtStyle())
	raw, err := g.client.GenerateText(ctx, genai.TextRequest{System: p.System, Prompt: p.User, Temperature: 0.2})
	if err != nil {
		return "", err
	}
	desc := strings.Join(strings.Fields(raw), " ")
	if desc == "" {
		return "", fmt.Errorf("empty description for %s", c.DisplayName())
	}
	return desc, nil
}

var _ Generator = (*GeminiGenerator)(nil)
