package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"storybook/internal/domain"
)

// TextPrompt is a system instruction plus the user message for the text service.
type TextPrompt struct {
	System string
	User   string
}

// Language resolves the narrative language tag, defaulting to English.
func Language(settings domain.Settings) language.Tag {
	if tag, err := language.Parse(strings.TrimSpace(settings.Language)); err == nil && tag != language.Und {
		return tag
	}
	return language.English
}

// LanguageName returns the English name of tag, for use inside prompts.
func LanguageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return "English"
}

// TitleCase normalizes a generated book title for tag.
func TitleCase(title string, tag language.Tag) string {
	return cases.Title(tag, cases.NoLower).String(strings.TrimSpace(title))
}

const storytellerSystem = "You are an award-winning children's picture book author. Respond strictly with JSON matching the requested schema and nothing else."

func castSummary(job *domain.Job) string {
	sb := &strings.Builder{}
	for i, c := range job.Characters {
		fmt.Fprintf(sb, "%d. %s (%s", i+1, c.DisplayName(), domain.ParseEntityType(string(c.EntityType)))
		if c.Age != "" {
			fmt.Fprintf(sb, ", age %s", c.Age)
		}
		if c.Gender != "" {
			fmt.Fprintf(sb, ", %s", c.Gender)
		}
		if c.Role != "" {
			fmt.Fprintf(sb, ", %s character", c.Role)
		}
		sb.WriteString(")")
		if c.StoryRole != "" {
			fmt.Fprintf(sb, " role: %s.", c.StoryRole)
		}
		if c.Description != "" {
			fmt.Fprintf(sb, " %s", c.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// OutlinePrompt asks for the book plan with exactly the target scene count.
func OutlinePrompt(job *domain.Job) TextPrompt {
	n := job.Settings.TargetSceneCount()
	lang := LanguageName(Language(job.Settings))
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Plan a picture book with exactly %d scenes for readers aged %s. ", n, fallback(job.Settings.AgeRange, "3-8"))
	fmt.Fprintf(sb, "Theme: %s. Subject: %s. ", fallback(job.Settings.Theme, "friendship"), fallback(job.Settings.Subject, "a small adventure"))
	if d := strings.TrimSpace(job.Settings.FreeTextDescription); d != "" {
		fmt.Fprintf(sb, "Parent's notes: %s. ", d)
	}
	fmt.Fprintf(sb, "Write every text field in %s.\nCharacters:\n%s", lang, castSummary(job))
	sb.WriteString(`Respond as JSON: {"title":string,"dedication":string,"scenes":[{"number":int,"title":string,"summary":string,"sceneDescription":string}]}. `)
	fmt.Fprintf(sb, "Scenes are numbered 1 to %d in order. sceneDescription describes only what is visible: setting, action and which characters are present by name.", n)
	return TextPrompt{System: storytellerSystem, User: sb.String()}
}

// ScenePrompt asks for the page text of scene index i, grounded on the pages
// written so far.
func ScenePrompt(job *domain.Job, outline *domain.Outline, i int, previous []domain.SceneText) TextPrompt {
	scene, _ := outline.Scene(i)
	lang := LanguageName(Language(job.Settings))
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Book: %q, theme %s, readers aged %s. Write in %s.\n", outline.Title, fallback(job.Settings.Theme, "friendship"), fallback(job.Settings.AgeRange, "3-8"), lang)
	fmt.Fprintf(sb, "Characters:\n%s", castSummary(job))
	if len(previous) > 0 {
		sb.WriteString("Story so far:\n")
		for _, p := range previous {
			fmt.Fprintf(sb, "Scene %d (%s): %s\n", p.SceneNumber, p.SceneTitle, p.PageText)
		}
	}
	fmt.Fprintf(sb, "Now write scene %d of %d, %q: %s\n", scene.Number, len(outline.Scenes), scene.Title, scene.Summary)
	sb.WriteString(`Respond as JSON: {"sceneTitle":string,"pageText":string}. pageText is 2 to 4 short sentences suitable for reading aloud.`)
	return TextPrompt{System: storytellerSystem, User: sb.String()}
}

// CharacterDescriptionPrompt asks for a stable visual description of c that
// later illustration prompts reuse verbatim.
func CharacterDescriptionPrompt(c domain.Character, artStyle string) TextPrompt {
	et := domain.ParseEntityType(string(c.EntityType))
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Describe the permanent visual appearance of %s, a %s character, for an illustrator working in %s style. ", c.DisplayName(), et, fallback(artStyle, "soft watercolor"))
	switch et {
	case domain.EntityAnimal:
		sb.WriteString("Cover species, breed, size, coat color and markings, eye color. ")
	case domain.EntityObject:
		sb.WriteString("Cover shape, materials, colors and distinctive marks. ")
	default:
		if c.Age != "" {
			fmt.Fprintf(sb, "Age: %s. ", c.Age)
		}
		sb.WriteString("Cover face shape, skin tone, eye color, hair color and hairstyle, build. ")
	}
	if c.ClothingStyle != "" {
		fmt.Fprintf(sb, "Clothing: %s. ", c.ClothingStyle)
	}
	if c.Description != "" {
		fmt.Fprintf(sb, "Notes: %s. ", c.Description)
	}
	sb.WriteString("Answer with one plain paragraph under 60 words, no pose, no background, no story events.")
	return TextPrompt{
		System: "You are a character designer keeping a character identical across many illustrations.",
		User:   sb.String(),
	}
}

func fallback(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
