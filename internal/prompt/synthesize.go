package prompt

import (
	"fmt"
	"strings"

	"storybook/internal/domain"
)

// PlaceholderReference marks a character without any usable reference image.
// It is a candidate only: synthesis drops it from Result.References and
// labels the character as having no reference image.
const PlaceholderReference = "placeholder:no-reference"

// Entity is the prompt-facing view of one character.
type Entity struct {
	Name          string
	Type          domain.EntityType
	Gender        string
	Age           string
	Description   string
	ClothingStyle string
	StoryRole     string
	// Appearance is the cached visual description from the consistency stage.
	Appearance string
	// Candidates are reference images in priority order, already resolved.
	Candidates []string
}

// EntityFromCharacter builds the prompt view of c with its cached appearance.
func EntityFromCharacter(c domain.Character, appearance string) Entity {
	return Entity{
		Name:          strings.TrimSpace(c.Name),
		Type:          domain.ParseEntityType(string(c.EntityType)),
		Gender:        strings.TrimSpace(c.Gender),
		Age:           strings.TrimSpace(c.Age),
		Description:   strings.TrimSpace(c.Description),
		ClothingStyle: strings.TrimSpace(c.ClothingStyle),
		StoryRole:     strings.TrimSpace(c.StoryRole),
		Appearance:    strings.TrimSpace(appearance),
		Candidates:    ReferenceCandidates(c),
	}
}

// ReferenceCandidates resolves reference images: generated avatars, else the
// uploaded photo, else the placeholder marker.
func ReferenceCandidates(c domain.Character) []string {
	if !c.Avatar.IsZero() {
		return c.Avatar.All()
	}
	if photo := strings.TrimSpace(c.PhotoURL); photo != "" {
		return []string{photo}
	}
	return []string{PlaceholderReference}
}

// SceneContext describes what is happening in the image.
type SceneContext struct {
	Description string
	PageText    string
}

// StyleContext describes how the image is rendered.
type StyleContext struct {
	ArtStyle string
	Theme    string
	// ReferencesPerEntity caps reference images per character; scenes use 1.
	ReferencesPerEntity int
}

// Result is the output of prompt synthesis. It never depends on the seed.
type Result struct {
	Positive   string
	Negative   string
	References []string
}

// Synthesizer builds deterministic prompts from a token configuration.
type Synthesizer struct {
	tokens *Tokens
}

func NewSynthesizer(tokens *Tokens) *Synthesizer {
	if tokens == nil {
		tokens = DefaultTokens()
	}
	return &Synthesizer{tokens: tokens}
}

var defaultSynthesizer = NewSynthesizer(nil)

// Synthesize builds the prompts for a single entity with the embedded tokens.
func Synthesize(e Entity, scene SceneContext, style StyleContext) Result {
	return defaultSynthesizer.Synthesize(e, scene, style)
}

// Synthesize builds the prompts for a single entity.
func (s *Synthesizer) Synthesize(e Entity, scene SceneContext, style StyleContext) Result {
	age := AgeDescriptors(e.Age)
	sections := []string{soloAnchor(e.Type)}
	sections = append(sections, subjectClauses(e, age)...)
	sections = append(sections, sceneClauses(scene)...)
	sections = append(sections, styleClause(e, style))

	cond := conditions{
		solo:      true,
		child:     e.Type == domain.EntityHuman && age.Child(),
		unclothed: e.ClothingStyle == "",
		hasHuman:  e.Type == domain.EntityHuman,
		hasAnimal: e.Type == domain.EntityAnimal,
	}
	return Result{
		Positive:   joinSections(sections),
		Negative:   s.tokens.render(s.tokens.sections(e.Type, cond)),
		References: pickReferences(e, style.ReferencesPerEntity),
	}
}

// Group builds the prompts for several entities sharing one image. Clause k
// describes entity k and cites the 1-based positions of its references in
// Result.References.
func (s *Synthesizer) Group(entities []Entity, scene SceneContext, style StyleContext, header string) Result {
	if len(entities) == 1 && header == "" {
		return s.Synthesize(entities[0], scene, style)
	}
	names := make([]string, 0, len(entities))
	hasHuman, hasAnimal := false, false
	for _, e := range entities {
		names = append(names, displayName(e))
		hasHuman = hasHuman || e.Type == domain.EntityHuman
		hasAnimal = hasAnimal || e.Type == domain.EntityAnimal
	}

	var sections []string
	if header != "" {
		sections = append(sections, header)
	}
	if len(entities) == 1 {
		sections = append(sections, soloAnchor(entities[0].Type))
	} else {
		sections = append(sections, fmt.Sprintf("Exactly %d characters and no one else: %s", len(entities), strings.Join(names, ", ")))
	}

	per := max(style.ReferencesPerEntity, 1)
	var (
		refs     []string
		negative []string
		tails    []string
	)
	for i, e := range entities {
		age := AgeDescriptors(e.Age)
		picked := pickReferences(e, per)
		start := len(refs) + 1
		refs = append(refs, picked...)
		var label string
		switch len(picked) {
		case 0:
			label = fmt.Sprintf("Character %d (no reference image)", i+1)
		case 1:
			label = fmt.Sprintf("Character %d (reference image %d)", i+1, start)
		default:
			label = fmt.Sprintf("Character %d (reference images %d-%d)", i+1, start, start+len(picked)-1)
		}
		sections = append(sections, label+": "+strings.Join(subjectClauses(e, age), "; "))

		cond := conditions{
			solo:      len(entities) == 1,
			child:     e.Type == domain.EntityHuman && age.Child(),
			unclothed: e.ClothingStyle == "",
			hasHuman:  hasHuman,
			hasAnimal: hasAnimal,
		}
		steps := s.tokens.sections(e.Type, cond)
		if len(steps) == 0 {
			continue
		}
		negative = appendUnique(negative, steps[:len(steps)-1]...)
		tails = appendUnique(tails, steps[len(steps)-1])
	}
	sections = append(sections, sceneClauses(scene)...)
	sections = append(sections, groupStyleClause(style))

	return Result{
		Positive:   joinSections(sections),
		Negative:   s.tokens.render(appendUnique(negative, tails...)),
		References: refs,
	}
}

// appendUnique appends the names not yet in dst, keeping first appearance order.
func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, d := range dst {
			if d == n {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, n)
		}
	}
	return dst
}

// pickReferences returns up to n usable candidates; nil when e has none.
func pickReferences(e Entity, n int) []string {
	if n <= 0 {
		n = 1
	}
	var out []string
	for _, c := range e.Candidates {
		if len(out) == n {
			break
		}
		if c == "" || c == PlaceholderReference {
			continue
		}
		out = append(out, c)
	}
	return out
}

func soloAnchor(t domain.EntityType) string {
	switch t {
	case domain.EntityAnimal:
		return "Solo animal illustration, exactly one animal, no humans, no people"
	case domain.EntityObject:
		return "Solo object illustration, exactly one object, no humans, no animals"
	default:
		return "Solo illustration of exactly one person, a single character alone in the frame"
	}
}

func subjectClauses(e Entity, age AgeDescriptor) []string {
	switch e.Type {
	case domain.EntityAnimal:
		return animalClauses(e)
	case domain.EntityObject:
		return objectClauses(e)
	default:
		return humanClauses(e, age)
	}
}

func humanClauses(e Entity, age AgeDescriptor) []string {
	out := []string{fmt.Sprintf("%s (%s%s)", displayName(e), age.Label, genderSuffix(e.Gender, age))}
	if e.ClothingStyle != "" {
		out = append(out, fmt.Sprintf("wearing exactly %s, the same garments, colors and patterns in every image", e.ClothingStyle))
	} else if age.Child() {
		out = append(out, "wearing a plain age-appropriate outfit: solid-color t-shirt, soft trousers and simple sneakers")
	} else {
		out = append(out, "wearing plain everyday clothes: solid-color top, trousers and simple shoes")
	}
	if e.StoryRole != "" {
		out = append(out, "story role: "+e.StoryRole)
	}
	out = append(out, "face must match the reference photo: same face shape, eye shape and color, eyebrows, nose, lips, skin tone, hair color and hairstyle")
	out = append(out, "body: "+age.Proportions)
	if e.Appearance != "" {
		out = append(out, "appearance: "+e.Appearance)
	}
	if e.Description != "" {
		out = append(out, "details: "+e.Description)
	}
	return out
}

func animalClauses(e Entity) []string {
	out := []string{speciesPhrase(e)}
	if name := strings.TrimSpace(e.Name); name != "" {
		out = append(out, "the animal is named "+name)
	}
	if e.ClothingStyle != "" {
		out = append(out, fmt.Sprintf("wearing exactly %s, the same item and color in every image", e.ClothingStyle))
	} else {
		out = append(out, "no clothing, no accessories, natural fur, feathers or scales only")
	}
	out = append(out, "must match the animal in the reference image: same species, breed, markings, coat color and pattern, eye color")
	if e.Appearance != "" {
		out = append(out, "appearance: "+e.Appearance)
	}
	out = append(out, "natural animal pose and stance for its species, expressive yet animal-like face")
	return out
}

// speciesPhrase never degrades to a bare gender plus "animal".
func speciesPhrase(e Entity) string {
	desc := strings.TrimSpace(e.Description)
	gender := strings.ToLower(strings.TrimSpace(e.Gender))
	if gender != "male" && gender != "female" {
		gender = ""
	}
	if desc == "" {
		if gender != "" {
			return fmt.Sprintf("a %s pet animal of a common domestic species, drawn as a natural four-legged creature", gender)
		}
		return "a pet animal of a common domestic species, drawn as a natural four-legged creature"
	}
	if gender != "" {
		return fmt.Sprintf("a %s %s", gender, desc)
	}
	return "a " + desc
}

var personalityHints = []string{
	"friendly", "smiling", "smile", "talking", "talks", "happy", "brave", "shy", "curious",
	"alive", "personality", "character", "eyes", "face", "grumpy", "cheerful", "magic",
}

func objectClauses(e Entity) []string {
	subject := displayName(e)
	if e.Description != "" {
		subject = fmt.Sprintf("%s: %s", subject, e.Description)
	}
	out := []string{subject}
	out = append(out, "must match the object in the reference image: same shape, materials, colors and markings")
	if e.Appearance != "" {
		out = append(out, "appearance: "+e.Appearance)
	}
	if hasPersonality(e.Description + " " + e.StoryRole) {
		out = append(out, "storybook character framing: a gentle friendly face and an expressive pose while keeping its real shape and materials")
	} else {
		out = append(out, "product framing: the object shown whole and centered, true to its real shape and materials")
	}
	return out
}

func hasPersonality(text string) bool {
	text = strings.ToLower(text)
	for _, hint := range personalityHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

func sceneClauses(scene SceneContext) []string {
	var out []string
	if d := strings.TrimSpace(scene.Description); d != "" {
		out = append(out, "scene: "+d)
	}
	if t := strings.TrimSpace(scene.PageText); t != "" {
		out = append(out, "moment from the story: "+t)
	}
	return out
}

func styleClause(e Entity, style StyleContext) string {
	framing := "full body visible"
	if e.Type == domain.EntityObject {
		framing = "whole object visible"
	}
	return fmt.Sprintf("children's picture book illustration, %s style, %s, clean composition, soft lighting, consistent character design", artStyle(style), framing)
}

func groupStyleClause(style StyleContext) string {
	return fmt.Sprintf("children's picture book illustration, %s style, every character fully visible, clean composition, soft lighting, consistent character design", artStyle(style))
}

func artStyle(style StyleContext) string {
	if s := strings.TrimSpace(style.ArtStyle); s != "" {
		return s
	}
	return "soft watercolor"
}

func displayName(e Entity) string {
	if n := strings.TrimSpace(e.Name); n != "" {
		return n
	}
	switch e.Type {
	case domain.EntityAnimal:
		return "the animal"
	case domain.EntityObject:
		return "the object"
	default:
		return "the hero"
	}
}

func genderSuffix(gender string, age AgeDescriptor) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "female", "girl", "woman":
		if age.Child() {
			return ", girl"
		}
		return ", woman"
	case "male", "boy", "man":
		if age.Child() {
			return ", boy"
		}
		return ", man"
	default:
		return ""
	}
}

func joinSections(sections []string) string {
	var parts []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ". ") + "."
}
