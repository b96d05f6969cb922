package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"storybook/internal/domain"
)

//go:embed tokens.yaml
var defaultTokensYAML []byte

// Condition gates an optional negative section.
type Condition string

const (
	WhenAlways    Condition = ""
	WhenSolo      Condition = "solo"
	WhenChild     Condition = "child"
	WhenUnclothed Condition = "unclothed"
	WhenNoHumans  Condition = "no_humans"
	WhenNoAnimals Condition = "no_animals"
)

// Step is one entry of a negative section order.
type Step struct {
	Section string    `yaml:"section"`
	When    Condition `yaml:"when"`
}

// Tokens holds the reusable negative token lists and, per entity type, the
// fixed order in which they are concatenated.
type Tokens struct {
	Sections map[string][]string          `yaml:"sections"`
	Order    map[domain.EntityType][]Step `yaml:"order"`
}

// ParseTokens decodes and validates a token configuration.
func ParseTokens(raw []byte) (*Tokens, error) {
	var t Tokens
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse prompt tokens: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tokens) validate() error {
	for _, et := range []domain.EntityType{domain.EntityHuman, domain.EntityAnimal, domain.EntityObject} {
		steps := t.Order[et]
		if len(steps) == 0 {
			return fmt.Errorf("prompt tokens: no negative order for %s", et)
		}
		for _, st := range steps {
			if len(t.Sections[st.Section]) == 0 {
				return fmt.Errorf("prompt tokens: %s references empty section %q", et, st.Section)
			}
			switch st.When {
			case WhenAlways, WhenSolo, WhenChild, WhenUnclothed, WhenNoHumans, WhenNoAnimals:
			default:
				return fmt.Errorf("prompt tokens: unknown condition %q", st.When)
			}
		}
	}
	return nil
}

// DefaultTokens returns the embedded configuration.
func DefaultTokens() *Tokens {
	t, err := ParseTokens(defaultTokensYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// conditions is the evaluation context of one entity in one image.
type conditions struct {
	solo      bool
	child     bool
	unclothed bool
	hasHuman  bool
	hasAnimal bool
}

func (c conditions) holds(w Condition) bool {
	switch w {
	case WhenSolo:
		return c.solo
	case WhenChild:
		return c.child
	case WhenUnclothed:
		return c.unclothed
	case WhenNoHumans:
		return !c.hasHuman
	case WhenNoAnimals:
		return !c.hasAnimal
	default:
		return true
	}
}

// sections returns the section names emitted for entity type et.
func (t *Tokens) sections(et domain.EntityType, c conditions) []string {
	var out []string
	for _, st := range t.Order[et] {
		if c.holds(st.When) {
			out = append(out, st.Section)
		}
	}
	return out
}

// render joins the tokens of the given sections, dropping repeated tokens.
func (t *Tokens) render(sections []string) string {
	seen := map[string]struct{}{}
	var parts []string
	for _, name := range sections {
		for _, tok := range t.Sections[name] {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			parts = append(parts, tok)
		}
	}
	return strings.Join(parts, ", ")
}
