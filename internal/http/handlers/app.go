package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
	"storybook/internal/pipeline"
	"storybook/internal/regenerate"
)

// StageRunner runs one pipeline stage.
type StageRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Output, error)
}

// RunStarter enqueues an orchestrated run.
type RunStarter interface {
	Start(ctx context.Context, jobID string) error
}

// Regenerator redraws one scene illustration.
type Regenerator interface {
	Regenerate(ctx context.Context, jobID string, sceneNumber int) (*regenerate.Result, error)
}

// JobLoader reads a job with its progress.
type JobLoader interface {
	Load(ctx context.Context, jobID string) (*domain.Job, error)
}

type App struct {
	Stages      StageRunner
	Runs        RunStarter
	Regenerator Regenerator
	Jobs        JobLoader
	Logger      zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind          domain.ErrorKind `json:"kind"`
	Stage         string           `json:"stage,omitempty"`
	Entity        string           `json:"entity,omitempty"`
	Message       string           `json:"message"`
	MissingScenes []int            `json:"missingScenes,omitempty"`
	Retryable     bool             `json:"retryable"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindNotFound:                 http.StatusNotFound,
	domain.KindValidation:               http.StatusBadRequest,
	domain.KindUpstreamGeneration:       http.StatusBadGateway,
	domain.KindPersistenceInconsistency: http.StatusServiceUnavailable,
	domain.KindCreditExhausted:          http.StatusPaymentRequired,
	domain.KindStageOrderViolation:      http.StatusConflict,
	domain.KindStageInFlight:            http.StatusConflict,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (a *App) error(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Kind: domain.KindOf(err), Message: err.Error(), Retryable: domain.Retryable(err)}
	var se *domain.StageError
	if errors.As(err, &se) {
		body.Stage = se.Stage
		body.Entity = se.Entity
		body.MissingScenes = se.MissingScenes
	}
	code := StatusFor(body.Kind)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", string(body.Kind)).Msg("request failed")
		if body.Kind == domain.KindInternal {
			body.Message = "internal error"
		}
	}
	a.json(w, code, errorResponse{Error: body})
}

func validation(msg string) error {
	return domain.NewStageError(domain.KindValidation, "", "", errors.New(msg))
}
