package pipeline

import (
	"fmt"
	"strings"

	"storybook/internal/domain"
)

// Stage names one idempotent unit of pipeline work.
type Stage string

const (
	StageOutline              Stage = "outline"
	StageCharacterConsistency Stage = "character_consistency"
	StageCover                Stage = "cover"
	StageSceneText            Stage = "scene_text"
	StageSceneImage           Stage = "scene_image"
	StageFinalize             Stage = "finalize"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageOutline,
	StageCharacterConsistency,
	StageCover,
	StageSceneText,
	StageSceneImage,
	StageFinalize,
}

// ParseStage validates a stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Stages {
		if s == known {
			return s, nil
		}
	}
	return "", domain.NewStageError(domain.KindValidation, name, "", fmt.Errorf("unknown stage %q", name))
}

// PerScene reports whether the stage works on one scene index.
func (s Stage) PerScene() bool {
	return s == StageSceneText || s == StageSceneImage
}

// Request is one stage invocation.
type Request struct {
	JobID      string `json:"jobId"`
	Stage      Stage  `json:"stage"`
	SceneIndex int    `json:"sceneIndex"`
	// PageText grounds scene_image when scene_text has not been persisted for
	// the same index.
	PageText string `json:"pageText,omitempty"`
}

// Output is the stage result. Only the fields of the invoked stage are set.
type Output struct {
	Stage Stage `json:"stage"`
	// Cached is true when the stage found its completion marker and returned
	// the stored result without calling a generative service.
	Cached bool `json:"cached"`

	Title  string             `json:"title,omitempty"`
	Scenes []domain.SceneSpec `json:"scenes,omitempty"`

	CharacterDescriptions []domain.CharacterDescription `json:"characterDescriptions,omitempty"`

	CoverURL    string `json:"coverUrl,omitempty"`
	CoverPrompt string `json:"coverPrompt,omitempty"`
	CoverSeed   int64  `json:"coverSeed,omitempty"`

	PageText    string `json:"pageText,omitempty"`
	SceneNumber int    `json:"sceneNumber,omitempty"`
	SceneTitle  string `json:"sceneTitle,omitempty"`

	URL            string `json:"url,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`

	BookContent *domain.Book `json:"bookContent,omitempty"`
}

func outlineOutput(o *domain.Outline) *Output {
	return &Output{Stage: StageOutline, Title: o.Title, Scenes: o.Scenes}
}

func sceneTextOutput(st *domain.SceneText) *Output {
	return &Output{Stage: StageSceneText, PageText: st.PageText, SceneNumber: st.SceneNumber, SceneTitle: st.SceneTitle}
}

func sceneImageOutput(si *domain.SceneImage) *Output {
	return &Output{
		Stage:          StageSceneImage,
		SceneNumber:    si.SceneNumber,
		URL:            si.URL,
		Prompt:         si.Prompt,
		Seed:           si.Seed,
		NegativePrompt: si.NegativePrompt,
	}
}

func coverOutput(c *domain.Cover) *Output {
	return &Output{Stage: StageCover, CoverURL: c.URL, CoverPrompt: c.Prompt, CoverSeed: c.Seed}
}
