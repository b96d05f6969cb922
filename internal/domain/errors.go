package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrValidation               = errors.New("validation error")
	ErrUpstreamGeneration       = errors.New("upstream generation failure")
	ErrPersistenceInconsistency = errors.New("persistence inconsistency")
	ErrCreditExhausted          = errors.New("regeneration credits exhausted")
	ErrStageOrderViolation      = errors.New("stage order violation")
	ErrStageInFlight            = errors.New("stage already in flight")
)

// ErrorKind names a failure class of the error taxonomy.
type ErrorKind string

const (
	KindNotFound                 ErrorKind = "not_found"
	KindValidation               ErrorKind = "validation"
	KindUpstreamGeneration       ErrorKind = "upstream_generation"
	KindPersistenceInconsistency ErrorKind = "persistence_inconsistency"
	KindCreditExhausted          ErrorKind = "credit_exhausted"
	KindStageOrderViolation      ErrorKind = "stage_order_violation"
	KindStageInFlight            ErrorKind = "stage_in_flight"
	KindInternal                 ErrorKind = "internal"
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:                 ErrNotFound,
	KindValidation:               ErrValidation,
	KindUpstreamGeneration:       ErrUpstreamGeneration,
	KindPersistenceInconsistency: ErrPersistenceInconsistency,
	KindCreditExhausted:          ErrCreditExhausted,
	KindStageOrderViolation:      ErrStageOrderViolation,
	KindStageInFlight:            ErrStageInFlight,
}

// StageError is the structured failure returned by stages and regeneration.
// Stage and Entity identify the unit of work so a caller can retry just it.
type StageError struct {
	Kind          ErrorKind
	Stage         string
	Entity        string
	MissingScenes []int
	Err           error
}

// NewStageError wraps err with the given kind, stage and entity.
func NewStageError(kind ErrorKind, stage, entity string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Entity: entity, Err: err}
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" in stage ")
		b.WriteString(e.Stage)
	}
	if e.Entity != "" {
		b.WriteString(" (")
		b.WriteString(e.Entity)
		b.WriteString(")")
	}
	if len(e.MissingScenes) > 0 {
		fmt.Fprintf(&b, " missing scenes %v", e.MissingScenes)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *StageError) Unwrap() []error {
	var out []error
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf classifies err; errors outside the taxonomy are internal.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// Retryable reports whether re-invoking the same unit of work may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamGeneration, KindPersistenceInconsistency, KindStageInFlight, KindInternal:
		return true
	default:
		return false
	}
}

// SceneEntity formats the entity label of a 1-based scene number.
func SceneEntity(sceneNumber int) string { return fmt.Sprintf("scene %d", sceneNumber) }

// CharacterEntity formats the entity label of a character.
func CharacterEntity(c Character) string { return "character " + c.DisplayName() }
