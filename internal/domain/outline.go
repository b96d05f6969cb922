package domain

import (
	"fmt"
	"strings"
)

// SceneSpec is one narrative beat of the outline.
type SceneSpec struct {
	Number           int    `json:"number"`
	Title            string `json:"title"`
	Summary          string `json:"summary"`
	SceneDescription string `json:"sceneDescription"`
}

// Outline is the book plan produced by the outline stage.
type Outline struct {
	Title      string      `json:"title"`
	Dedication string      `json:"dedication,omitempty"`
	Scenes     []SceneSpec `json:"scenes"`
}

// Validate checks the scene count against the declared target and that scene
// numbers are unique, contiguous and match their 1-based position.
func (o Outline) Validate(target int) error {
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("outline title is empty")
	}
	if len(o.Scenes) != target {
		return fmt.Errorf("outline has %d scenes, want %d", len(o.Scenes), target)
	}
	for i, s := range o.Scenes {
		if s.Number != i+1 {
			return fmt.Errorf("scene at position %d is numbered %d", i+1, s.Number)
		}
	}
	return nil
}

// Scene returns the outline scene at zero-based index i.
func (o Outline) Scene(i int) (SceneSpec, bool) {
	if i < 0 || i >= len(o.Scenes) {
		return SceneSpec{}, false
	}
	return o.Scenes[i], true
}

// SceneCount is the number of planned scenes.
func (o Outline) SceneCount() int { return len(o.Scenes) }
