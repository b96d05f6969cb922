package prompt

import (
	"fmt"
	"strings"

	"storybook/internal/domain"
)

// SceneCast returns the characters that appear in a scene: those named in the
// scene summary or page text, in job order, or the main character when nobody
// is named.
func SceneCast(job *domain.Job, scene domain.SceneSpec, pageText string) []domain.Character {
	text := strings.ToLower(strings.Join([]string{scene.Title, scene.Summary, scene.SceneDescription, pageText}, " "))
	var cast []domain.Character
	for _, c := range job.Characters {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name != "" && strings.Contains(text, name) {
			cast = append(cast, c)
		}
	}
	if len(cast) == 0 {
		if main := job.MainCharacter(); main != nil {
			cast = append(cast, *main)
		}
	}
	return cast
}

func descriptionIndex(descriptions []domain.CharacterDescription) map[string]string {
	out := make(map[string]string, len(descriptions))
	for _, d := range descriptions {
		out[d.CharacterID] = d.Description
	}
	return out
}

func entities(chars []domain.Character, descriptions []domain.CharacterDescription) []Entity {
	idx := descriptionIndex(descriptions)
	out := make([]Entity, 0, len(chars))
	for _, c := range chars {
		out = append(out, EntityFromCharacter(c, idx[c.ID]))
	}
	return out
}

// BuildScene composes the illustration prompt of one scene with exactly one
// reference image per character.
func (s *Synthesizer) BuildScene(job *domain.Job, scene domain.SceneSpec, pageText string, descriptions []domain.CharacterDescription) Result {
	cast := entities(SceneCast(job, scene, pageText), descriptions)
	style := StyleContext{ArtStyle: job.ArtStyle(), Theme: job.Settings.Theme, ReferencesPerEntity: 1}
	ctx := SceneContext{Description: scene.SceneDescription, PageText: pageText}
	if len(cast) == 0 {
		return Result{Positive: joinSections(append(sceneClauses(ctx), groupStyleClause(style)))}
	}
	return s.Group(cast, ctx, style, "")
}

// BuildCover composes the cover prompt with every character and up to
// perCharacter reference images each.
func (s *Synthesizer) BuildCover(job *domain.Job, outline *domain.Outline, descriptions []domain.CharacterDescription, perCharacter int) Result {
	cast := entities(job.Characters, descriptions)
	title := ""
	if outline != nil {
		title = outline.Title
	}
	header := "Book cover illustration"
	if title != "" {
		header = fmt.Sprintf("Book cover illustration for %q, with clear empty space at the top for title lettering, no rendered text", title)
	}
	style := StyleContext{ArtStyle: job.ArtStyle(), Theme: job.Settings.Theme, ReferencesPerEntity: max(perCharacter, 1)}
	ctx := SceneContext{}
	if theme := strings.TrimSpace(job.Settings.Theme); theme != "" {
		ctx.Description = "an inviting opening image evoking a " + theme + " story"
	}
	if len(cast) == 0 {
		return Result{Positive: joinSections(append([]string{header}, append(sceneClauses(ctx), groupStyleClause(style))...))}
	}
	return s.Group(cast, ctx, style, header)
}
