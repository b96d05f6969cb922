package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProgressStage is the coarse, user-facing phase of a job.
type ProgressStage string

const (
	ProgressOutline              ProgressStage = "outline"
	ProgressNarrative            ProgressStage = "narrative"
	ProgressCharacterConsistency ProgressStage = "character_consistency"
	ProgressCover                ProgressStage = "cover"
	ProgressIllustrations        ProgressStage = "illustrations"
	ProgressLayout               ProgressStage = "layout"
	ProgressComplete             ProgressStage = "complete"
)

var progressRank = map[ProgressStage]int{
	ProgressOutline:              1,
	ProgressCharacterConsistency: 2,
	ProgressCover:                3,
	ProgressNarrative:            4,
	ProgressIllustrations:        5,
	ProgressLayout:               6,
	ProgressComplete:             7,
}

// Rank orders progress stages; unknown stages rank 0.
func (s ProgressStage) Rank() int { return progressRank[s] }

// Accumulator keys written into Progress.Data.
const (
	KeyOutline               = "outline"
	KeyCharacterDescriptions = "characterDescriptions"
	KeyCoverURL              = "coverUrl"
	KeyCoverPrompt           = "coverPrompt"
	KeyCoverSeed             = "coverSeed"
)

// SceneTextKey is the accumulator key of the text for zero-based scene index i.
func SceneTextKey(i int) string { return fmt.Sprintf("sceneText_%d", i) }

// SceneImageKey is the accumulator key of the illustration for zero-based scene index i.
func SceneImageKey(i int) string { return fmt.Sprintf("sceneImage_%d", i) }

// Progress is the durable per-job progress document.
type Progress struct {
	Stage         ProgressStage              `json:"stage"`
	StageProgress int                        `json:"stageProgress"`
	Message       string                     `json:"message"`
	StartedAt     time.Time                  `json:"startedAt"`
	Data          map[string]json.RawMessage `json:"data"`
}

// Has reports whether the accumulator holds key.
func (p Progress) Has(key string) bool {
	v, ok := p.Data[key]
	return ok && len(v) > 0 && string(v) != "null"
}

// Decode unmarshals the accumulator value at key into dst. It returns false
// when the key is absent.
func (p Progress) Decode(key string, dst any) (bool, error) {
	if !p.Has(key) {
		return false, nil
	}
	if err := json.Unmarshal(p.Data[key], dst); err != nil {
		return true, fmt.Errorf("decode progress key %s: %w", key, err)
	}
	return true, nil
}

// Outline decodes the persisted outline, if any.
func (p Progress) Outline() (*Outline, error) {
	var o Outline
	ok, err := p.Decode(KeyOutline, &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

// CharacterDescriptions decodes the persisted consistency descriptions, if any.
func (p Progress) CharacterDescriptions() ([]CharacterDescription, bool, error) {
	var out []CharacterDescription
	ok, err := p.Decode(KeyCharacterDescriptions, &out)
	return out, ok, err
}

// SceneText decodes the text of zero-based scene i, if any.
func (p Progress) SceneText(i int) (*SceneText, error) {
	var st SceneText
	ok, err := p.Decode(SceneTextKey(i), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SceneImage decodes the illustration of zero-based scene i, if any.
func (p Progress) SceneImage(i int) (*SceneImage, error) {
	var si SceneImage
	ok, err := p.Decode(SceneImageKey(i), &si)
	if err != nil || !ok {
		return nil, err
	}
	return &si, nil
}

// SceneImages assembles the sceneImages[] view for n scenes; missing entries are nil.
func (p Progress) SceneImages(n int) ([]*SceneImage, error) {
	out := make([]*SceneImage, n)
	for i := 0; i < n; i++ {
		si, err := p.SceneImage(i)
		if err != nil {
			return nil, err
		}
		out[i] = si
	}
	return out, nil
}

// Cover returns the persisted cover, if any.
func (p Progress) Cover() (*Cover, error) {
	var c Cover
	ok, err := p.Decode(KeyCoverURL, &c.URL)
	if err != nil || !ok {
		return nil, err
	}
	if _, err := p.Decode(KeyCoverPrompt, &c.Prompt); err != nil {
		return nil, err
	}
	if _, err := p.Decode(KeyCoverSeed, &c.Seed); err != nil {
		return nil, err
	}
	return &c, nil
}

// ProgressUpdate is one merge write against a job. Data is unioned into the
// accumulator key by key; it can add or overwrite keys but never remove them.
type ProgressUpdate struct {
	Stage         ProgressStage
	StageProgress int
	Message       string
	Data          map[string]any
	// Status, when set, is applied only if the current status may transition to it.
	Status JobStatus
	// Book, when set, is stored as the finalized book.
	Book *Book
}

// Keys lists the accumulator keys the update writes.
func (u ProgressUpdate) Keys() []string {
	keys := make([]string, 0, len(u.Data))
	for k := range u.Data {
		keys = append(keys, k)
	}
	return keys
}

// EncodeData marshals the update's accumulator patch.
func (u ProgressUpdate) EncodeData() ([]byte, error) {
	if len(u.Data) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(u.Data)
}

// AllowedFrom lists statuses that may transition to next.
func AllowedFrom(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range []JobStatus{JobStatusDraft, JobStatusPaid, JobStatusGenerating, JobStatusComplete, JobStatusFailed} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// CharacterDescription is the cached visual description of one character.
type CharacterDescription struct {
	CharacterID string `json:"characterId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SceneText is the narrative text artifact of one scene.
type SceneText struct {
	SceneNumber int    `json:"sceneNumber"`
	SceneTitle  string `json:"sceneTitle"`
	PageText    string `json:"pageText"`
}

// SceneImage is the illustration artifact of one scene together with the
// generation metadata needed to redo it.
type SceneImage struct {
	SceneNumber     int      `json:"sceneNumber"`
	URL             string   `json:"url"`
	Prompt          string   `json:"prompt"`
	Seed            int64    `json:"seed"`
	NegativePrompt  string   `json:"negativePrompt"`
	ReferenceImages []string `json:"referenceImages"`
}

// Cover is the persisted cover illustration.
type Cover struct {
	URL    string `json:"coverUrl"`
	Prompt string `json:"coverPrompt"`
	Seed   int64  `json:"coverSeed"`
}

// SceneArtifact joins the text and illustration of one scene.
type SceneArtifact struct {
	SceneNumber        int
	PageText           string
	IllustrationURL    string
	IllustrationPrompt string
	Seed               int64
	NegativePrompt     string
	ReferenceImages    []string
}

// Complete reports whether both text and illustration are present.
func (a SceneArtifact) Complete() bool {
	return a.PageText != "" && a.IllustrationURL != ""
}
