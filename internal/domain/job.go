package domain

import (
	"strings"
	"time"
)

// JobStatus enumerates the book job lifecycle.
type JobStatus string

const (
	JobStatusDraft      JobStatus = "draft"
	JobStatusPaid       JobStatus = "paid"
	JobStatusGenerating JobStatus = "generating"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultSceneCount is used when a job does not declare its target scene count.
const DefaultSceneCount = 10

// MaxSceneCount bounds the declared scene count.
const MaxSceneCount = 30

var statusRank = map[JobStatus]int{
	JobStatusDraft:      0,
	JobStatusPaid:       1,
	JobStatusGenerating: 2,
	JobStatusComplete:   3,
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Progress is forward only, one step at a time; failed can be entered from
// paid or generating and left only by resuming generation.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch {
	case next == JobStatusFailed:
		return s == JobStatusPaid || s == JobStatusGenerating
	case s == JobStatusFailed:
		return next == JobStatusGenerating
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to == from+1
}

// Runnable reports whether pipeline stages may execute for a job in status s.
func (s JobStatus) Runnable() bool {
	switch s {
	case JobStatusPaid, JobStatusGenerating, JobStatusFailed, JobStatusComplete:
		return true
	default:
		return false
	}
}

// Settings carries the narrative settings chosen at intake.
type Settings struct {
	AgeRange            string `json:"ageRange"`
	Theme               string `json:"theme"`
	ArtStyle            string `json:"artStyle"`
	Subject             string `json:"subject"`
	FreeTextDescription string `json:"freeTextDescription"`
	SceneCount          int    `json:"sceneCount,omitempty"`
	Language            string `json:"language,omitempty"`
}

// TargetSceneCount returns the declared scene count, falling back to the default.
func (s Settings) TargetSceneCount() int {
	switch {
	case s.SceneCount <= 0:
		return DefaultSceneCount
	case s.SceneCount > MaxSceneCount:
		return MaxSceneCount
	default:
		return s.SceneCount
	}
}

// Job is the top-level unit of work producing one book.
type Job struct {
	ID                  string
	UserID              string
	Status              JobStatus
	Settings            Settings
	Characters          []Character
	RegenerationCredits int
	Progress            Progress
	Book                *Book
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MainCharacter returns the first character with the main role, or the first
// character when none is flagged.
func (j *Job) MainCharacter() *Character {
	if j == nil || len(j.Characters) == 0 {
		return nil
	}
	for i := range j.Characters {
		if j.Characters[i].Role == RoleMain {
			return &j.Characters[i]
		}
	}
	return &j.Characters[0]
}

// ArtStyle resolves the style of the whole book: the main character's art style
// wins over the job settings.
func (j *Job) ArtStyle() string {
	if main := j.MainCharacter(); main != nil {
		if style := strings.TrimSpace(main.ArtStyle); style != "" {
			return style
		}
	}
	return strings.TrimSpace(j.Settings.ArtStyle)
}
