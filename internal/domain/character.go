package domain

import (
	"encoding/json"
	"strings"
)

// EntityType selects the prompt template used for a character.
type EntityType string

const (
	EntityHuman  EntityType = "human"
	EntityAnimal EntityType = "animal"
	EntityObject EntityType = "object"
)

// ParseEntityType normalizes free-form input; unknown values fall back to human.
func ParseEntityType(v string) EntityType {
	switch EntityType(strings.ToLower(strings.TrimSpace(v))) {
	case EntityAnimal:
		return EntityAnimal
	case EntityObject:
		return EntityObject
	default:
		return EntityHuman
	}
}

// CharacterRole distinguishes the protagonist from supporting characters.
type CharacterRole string

const (
	RoleMain       CharacterRole = "main"
	RoleSupporting CharacterRole = "supporting"
)

// Character is read-only to the pipeline; it is created during intake.
type Character struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	EntityType    EntityType    `json:"entityType"`
	Gender        string        `json:"gender,omitempty"`
	Age           string        `json:"age,omitempty"`
	PhotoURL      string        `json:"photoUrl,omitempty"`
	Avatar        AvatarRef     `json:"aiAvatarUrl,omitempty"`
	Description   string        `json:"description,omitempty"`
	ClothingStyle string        `json:"clothingStyle,omitempty"`
	StoryRole     string        `json:"storyRole,omitempty"`
	Role          CharacterRole `json:"role"`
	ArtStyle      string        `json:"artStyle,omitempty"`
}

// DisplayName returns the trimmed name or a neutral fallback.
func (c Character) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return "the hero"
}

// AvatarKind tags the shape of an avatar reference.
type AvatarKind string

const (
	AvatarNone   AvatarKind = ""
	AvatarSingle AvatarKind = "single"
	AvatarMulti  AvatarKind = "multi"
)

// AvatarRef is the normalized generated-avatar reference. Upstream data stores
// either a bare URL or a JSON-encoded array of URLs; ParseAvatar resolves that
// once so call sites never re-parse.
type AvatarRef struct {
	Kind AvatarKind
	URLs []string
}

// ParseAvatar normalizes a raw avatar column value.
func ParseAvatar(raw string) AvatarRef {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return AvatarRef{}
	}
	if strings.HasPrefix(raw, "[") {
		var urls []string
		if err := json.Unmarshal([]byte(raw), &urls); err == nil {
			return NewAvatarRef(urls...)
		}
	}
	if strings.HasPrefix(raw, `"`) {
		var single string
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			return ParseAvatar(single)
		}
	}
	return NewAvatarRef(raw)
}

// NewAvatarRef builds a reference from already separated URLs.
func NewAvatarRef(urls ...string) AvatarRef {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	switch len(cleaned) {
	case 0:
		return AvatarRef{}
	case 1:
		return AvatarRef{Kind: AvatarSingle, URLs: cleaned}
	default:
		return AvatarRef{Kind: AvatarMulti, URLs: cleaned}
	}
}

// IsZero reports whether no avatar is available.
func (a AvatarRef) IsZero() bool { return len(a.URLs) == 0 }

// Primary returns the first avatar URL.
func (a AvatarRef) Primary() string {
	if a.IsZero() {
		return ""
	}
	return a.URLs[0]
}

// All returns a copy of every avatar URL in order.
func (a AvatarRef) All() []string {
	return append([]string(nil), a.URLs...)
}

// Raw renders the reference in its storage form.
func (a AvatarRef) Raw() string {
	switch a.Kind {
	case AvatarSingle:
		return a.URLs[0]
	case AvatarMulti:
		b, _ := json.Marshal(a.URLs)
		return string(b)
	default:
		return ""
	}
}

// MarshalJSON renders single avatars as a string and multi avatars as an array.
func (a AvatarRef) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AvatarSingle:
		return json.Marshal(a.URLs[0])
	case AvatarMulti:
		return json.Marshal(a.URLs)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a URL, an array of URLs or a string holding a JSON array.
func (a *AvatarRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*a = AvatarRef{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var urls []string
		if err := json.Unmarshal(data, &urls); err != nil {
			return err
		}
		*a = NewAvatarRef(urls...)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = ParseAvatar(s)
	return nil
}
