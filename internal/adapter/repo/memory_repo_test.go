package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"storybook/internal/domain"
)

func seedJob(t *testing.T, m *MemoryJobRepository, status domain.JobStatus, credits int) string {
	t.Helper()
	job := &domain.Job{
		ID:                  "job-1",
		UserID:              "user-1",
		Status:              status,
		RegenerationCredits: credits,
		Characters:          []domain.Character{{ID: "c1", Name: "Mia", Role: domain.RoleMain}},
	}
	if err := m.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	return job.ID
}

func TestMemoryMergeIsShallowUnion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusPaid, 0)

	if err := m.MergeProgress(ctx, id, domain.ProgressUpdate{
		Stage: domain.ProgressOutline,
		Data:  map[string]any{domain.KeyOutline: map[string]string{"title": "Sea"}},
	}); err != nil {
		t.Fatalf("merge outline: %v", err)
	}
	if err := m.MergeProgress(ctx, id, domain.ProgressUpdate{
		Stage: domain.ProgressCover,
		Data:  map[string]any{domain.KeyCoverURL: "https://cdn/cover.png"},
	}); err != nil {
		t.Fatalf("merge cover: %v", err)
	}

	job, err := m.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if !job.Progress.Has(domain.KeyOutline) || !job.Progress.Has(domain.KeyCoverURL) {
		t.Fatalf("expected both keys, got %v", job.Progress.Data)
	}
	if job.Progress.Stage != domain.ProgressCover {
		t.Fatalf("stage mismatch: %s", job.Progress.Stage)
	}
}

func TestMemoryMergeStageOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusGenerating, 0)

	_ = m.MergeProgress(ctx, id, domain.ProgressUpdate{Stage: domain.ProgressIllustrations, StageProgress: 60, Message: "scene 3"})
	_ = m.MergeProgress(ctx, id, domain.ProgressUpdate{Stage: domain.ProgressNarrative, StageProgress: 90, Message: "text 2", Data: map[string]any{"sceneText_1": "x"}})
	_ = m.MergeProgress(ctx, id, domain.ProgressUpdate{Stage: domain.ProgressIllustrations, StageProgress: 30})

	job, _ := m.GetJob(ctx, id)
	if job.Progress.Stage != domain.ProgressIllustrations {
		t.Fatalf("stage regressed to %s", job.Progress.Stage)
	}
	if job.Progress.StageProgress != 60 {
		t.Fatalf("stage progress regressed to %d", job.Progress.StageProgress)
	}
	if job.Progress.Message != "scene 3" {
		t.Fatalf("message overwritten by an earlier stage: %q", job.Progress.Message)
	}
	if !job.Progress.Has("sceneText_1") {
		t.Fatal("data of a lagging stage must still be merged")
	}
}

func TestMemoryMergeStatusTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusComplete, 0)

	_ = m.MergeProgress(ctx, id, domain.ProgressUpdate{Status: domain.JobStatusGenerating})
	job, _ := m.GetJob(ctx, id)
	if job.Status != domain.JobStatusComplete {
		t.Fatalf("status moved backwards to %s", job.Status)
	}
}

func TestMemoryGetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusPaid, 0)

	job, _ := m.GetJob(ctx, id)
	job.Progress.Data["leak"] = json.RawMessage(`1`)
	job.Characters[0].Name = "Changed"

	again, _ := m.GetJob(ctx, id)
	if again.Progress.Has("leak") || again.Characters[0].Name != "Mia" {
		t.Fatal("stored job was mutated through a returned copy")
	}
}

func TestMemoryConsumeCreditIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusComplete, 3)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, empty int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ConsumeRegenerationCredit(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrCreditExhausted):
				empty++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 3 || empty != 7 {
		t.Fatalf("got %d successes and %d exhausted", ok, empty)
	}
	job, _ := m.GetJob(ctx, id)
	if job.RegenerationCredits != 0 {
		t.Fatalf("credits should be 0, got %d", job.RegenerationCredits)
	}
}

func TestMemoryReplaceSceneIllustration(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusGenerating, 1)

	book := &domain.Book{
		Title: "Sea",
		Pages: []domain.Page{
			{Type: domain.PageCover},
			{Type: domain.PageStoryIllustration, SceneNumber: 1, IllustrationURL: "old"},
		},
		IllustrationMetadata: []domain.IllustrationMetadata{{SceneNumber: 1, Seed: 1}},
	}
	if err := m.MergeProgress(ctx, id, domain.ProgressUpdate{Stage: domain.ProgressComplete, Status: domain.JobStatusComplete, Book: book}); err != nil {
		t.Fatalf("merge book: %v", err)
	}
	if err := m.ReplaceSceneIllustration(ctx, id, 1, "new", 42); err != nil {
		t.Fatalf("replace error: %v", err)
	}
	if err := m.ReplaceSceneIllustration(ctx, id, 7, "new", 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for missing scene, got %v", err)
	}

	job, _ := m.GetJob(ctx, id)
	if job.Book.Pages[1].IllustrationURL != "new" || job.Book.IllustrationMetadata[0].Seed != 42 {
		t.Fatalf("book not updated: %+v", job.Book)
	}
	if book.Pages[1].IllustrationURL != "old" {
		t.Fatal("caller's book must not alias stored state")
	}
}

func TestMemoryMarkFailed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusGenerating, 0)

	if err := m.MarkFailed(ctx, id, "scene 2 failed"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	job, _ := m.GetJob(ctx, id)
	if job.Status != domain.JobStatusFailed || job.Progress.Message != "scene 2 failed" {
		t.Fatalf("unexpected job state: %s %q", job.Status, job.Progress.Message)
	}
	if _, err := m.GetJob(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryFailedJobKeepsFailureMessage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryJobRepository()
	id := seedJob(t, m, domain.JobStatusGenerating, 0)
	_ = m.MarkFailed(ctx, id, "scene_image (scene 2) failed")

	err := m.MergeProgress(ctx, id, domain.ProgressUpdate{
		Stage:   domain.ProgressIllustrations,
		Message: "Illustrated scene 3 of 3",
		Data:    map[string]any{domain.SceneImageKey(2): map[string]any{"url": "u"}},
	})
	if err != nil {
		t.Fatalf("MergeProgress error: %v", err)
	}
	job, _ := m.GetJob(ctx, id)
	if job.Progress.Message != "scene_image (scene 2) failed" || !job.Progress.Has(domain.SceneImageKey(2)) {
		t.Fatalf("message=%q", job.Progress.Message)
	}

	_ = m.MergeProgress(ctx, id, domain.ProgressUpdate{Stage: domain.ProgressLayout, Message: "resumed", Status: domain.JobStatusGenerating})
	job, _ = m.GetJob(ctx, id)
	if job.Status != domain.JobStatusGenerating || job.Progress.Message != "resumed" {
		t.Fatalf("status=%s message=%q", job.Status, job.Progress.Message)
	}
}
