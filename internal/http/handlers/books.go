package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"storybook/internal/domain"
	"storybook/internal/pipeline"
	"storybook/pkg/zip"
)

type stageRequest struct {
	SceneIndex int    `json:"sceneIndex"`
	PageText   string `json:"pageText"`
}

type stageResponse struct {
	Success bool `json:"success"`
	*pipeline.Output
}

// RunStage invokes one stage of a job.
func (a *App) RunStage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stage, err := pipeline.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		a.error(w, r, err)
		return
	}
	var body stageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, r, validation("invalid stage input"))
		return
	}
	out, err := a.Stages.Run(r.Context(), pipeline.Request{
		JobID:      jobID,
		Stage:      stage,
		SceneIndex: body.SceneIndex,
		PageText:   body.PageText,
	})
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, stageResponse{Success: true, Output: out})
}

// Generate starts the server-side orchestrated run of a job.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := a.Runs.Start(r.Context(), jobID); err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"success": true, "jobId": jobID, "status": "queued"})
}

type progressResponse struct {
	JobID               string               `json:"jobId"`
	Status              domain.JobStatus     `json:"status"`
	RegenerationCredits int                  `json:"regenerationCredits"`
	Progress            domain.Progress      `json:"progress"`
	SceneImages         []*domain.SceneImage `json:"sceneImages"`
	Book                *domain.Book         `json:"book,omitempty"`
}

// Progress returns the progress document of a job.
func (a *App) Progress(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadJob(r)
	if err != nil {
		a.error(w, r, err)
		return
	}
	n := job.Settings.TargetSceneCount()
	if outline, err := job.Progress.Outline(); err == nil && outline != nil {
		n = outline.SceneCount()
	}
	images, err := job.Progress.SceneImages(n)
	if err != nil {
		a.error(w, r, domain.NewStageError(domain.KindPersistenceInconsistency, "", "job "+job.ID, err))
		return
	}
	a.json(w, http.StatusOK, progressResponse{
		JobID:               job.ID,
		Status:              job.Status,
		RegenerationCredits: job.RegenerationCredits,
		Progress:            job.Progress,
		SceneImages:         images,
		Book:                job.Book,
	})
}

// Regenerate redraws one scene illustration of a finished book.
func (a *App) Regenerate(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sceneNumber, err := strconv.Atoi(chi.URLParam(r, "sceneNumber"))
	if err != nil || sceneNumber < 1 {
		a.error(w, r, validation("sceneNumber must be a positive integer"))
		return
	}
	res, err := a.Regenerator.Regenerate(r.Context(), jobID, sceneNumber)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":          true,
		"sceneNumber":      res.SceneNumber,
		"url":              res.URL,
		"seed":             res.Seed,
		"creditsRemaining": res.CreditsRemaining,
	})
}

// Archive downloads a finished book as a zip with book.json and one text
// file per story page.
func (a *App) Archive(w http.ResponseWriter, r *http.Request) {
	job, err := a.loadJob(r)
	if err != nil {
		a.error(w, r, err)
		return
	}
	if job.Book == nil {
		a.error(w, r, domain.NewStageError(domain.KindStageOrderViolation, string(pipeline.StageFinalize), "job "+job.ID,
			errors.New("book has not been finalized")))
		return
	}
	bookJSON, err := json.MarshalIndent(job.Book, "", "  ")
	if err != nil {
		a.error(w, r, err)
		return
	}
	entries := []zip.Entry{{Filename: "book.json", Data: bookJSON}}
	for _, p := range job.Book.Pages {
		if p.Type != domain.PageStoryText {
			continue
		}
		text := p.Text
		if p.Title != "" {
			text = p.Title + "\n\n" + text
		}
		entries = append(entries, zip.Entry{
			Filename: fmt.Sprintf("pages/scene-%02d.txt", p.SceneNumber),
			Data:     []byte(text + "\n"),
		})
	}
	modified := job.UpdatedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	data, err := zip.Archive(entries, modified)
	if err != nil {
		a.error(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "book-"+job.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *App) loadJob(r *http.Request) (*domain.Job, error) {
	jobID := chi.URLParam(r, "jobID")
	job, err := a.Jobs.Load(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewStageError(domain.KindNotFound, "", "job "+jobID, err)
	}
	return job, err
}
