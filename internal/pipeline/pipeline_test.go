package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/adapter/repo"
	"storybook/internal/domain"
	"storybook/internal/lease"
	"storybook/internal/providers/image"
	"storybook/internal/providers/text"
	"storybook/internal/store"
)

type stubImages struct {
	mu    sync.Mutex
	calls int
	fail  error
	last  image.GenerateRequest
}

func (s *stubImages) Generate(_ context.Context, req image.GenerateRequest) (*image.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.fail != nil {
		return nil, s.fail
	}
	return &image.Asset{Format: "image/png", Width: 4, Height: 3, Data: []byte("png")}, nil
}

func (s *stubImages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memObjects struct {
	mu   sync.Mutex
	keys []string
}

func (m *memObjects) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

type fixture struct {
	repo    *repo.MemoryJobRepository
	images  *stubImages
	objects *memObjects
	locker  *lease.MemoryLocker
	ctrl    *Controller
}

func newFixture(t *testing.T, status domain.JobStatus) *fixture {
	t.Helper()
	return newFixtureWithText(t, status, text.NewStaticGenerator())
}

func newFixtureWithText(t *testing.T, status domain.JobStatus, gen text.Generator) *fixture {
	t.Helper()
	f := &fixture{
		repo:    repo.NewMemoryJobRepository(),
		images:  &stubImages{},
		objects: &memObjects{},
		locker:  lease.NewMemoryLocker(),
	}
	job := &domain.Job{
		ID:     "job-mia",
		UserID: "user-1",
		Status: status,
		Settings: domain.Settings{
			Theme:      "adventure",
			ArtStyle:   "watercolor",
			SceneCount: 3,
		},
		Characters: []domain.Character{
			{ID: "c1", Name: "Mia", EntityType: domain.EntityHuman, Age: "5", Gender: "girl", Role: domain.RoleMain},
		},
		RegenerationCredits: 1,
	}
	if err := f.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	logger := zerolog.Nop()
	f.ctrl = New(Deps{
		Store:   store.New(f.repo, logger),
		Text:    gen,
		Images:  f.images,
		Objects: f.objects,
		Locker:  f.locker,
		Logger:  logger,
	}, Config{StageTimeout: 10 * time.Second, CoverReferencesPerCharacter: 2})
	return f
}

func (f *fixture) run(t *testing.T, stage Stage, index int) *Output {
	t.Helper()
	out, err := f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: stage, SceneIndex: index})
	if err != nil {
		t.Fatalf("%s(%d) error: %v", stage, index, err)
	}
	return out
}

func (f *fixture) runUpTo(t *testing.T, scenes int) {
	t.Helper()
	f.run(t, StageOutline, 0)
	f.run(t, StageCharacterConsistency, 0)
	f.run(t, StageCover, 0)
	for i := 0; i < scenes; i++ {
		f.run(t, StageSceneText, i)
		f.run(t, StageSceneImage, i)
	}
}

func TestEndToEndBuildsCompleteBook(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.runUpTo(t, 3)
	out := f.run(t, StageFinalize, 0)

	book := out.BookContent
	if book == nil {
		t.Fatal("finalize returned no book")
	}
	if len(book.Pages) != 9 || len(book.Pages) != domain.PageCount(3) {
		t.Fatalf("pages = %d, want 9", len(book.Pages))
	}
	if book.Pages[0].Type != domain.PageCover || book.Pages[8].Type != domain.PageBack {
		t.Fatalf("unexpected page order: %+v", book.Pages)
	}
	illustrations := 0
	for _, p := range book.Pages {
		if p.Type == domain.PageStoryIllustration {
			illustrations++
			if p.IllustrationURL == "" {
				t.Fatalf("scene %d has no illustration", p.SceneNumber)
			}
		}
	}
	if illustrations != 3 || len(book.IllustrationMetadata) != 3 {
		t.Fatalf("illustrations=%d metadata=%d", illustrations, len(book.IllustrationMetadata))
	}

	job, err := f.repo.GetJob(context.Background(), "job-mia")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.Status != domain.JobStatusComplete || job.Progress.Stage != domain.ProgressComplete {
		t.Fatalf("status=%s stage=%s", job.Status, job.Progress.Stage)
	}
	if job.Book == nil || len(job.Book.Pages) != 9 {
		t.Fatal("book not persisted")
	}
}

func TestScenePromptCarriesAgeAndDescription(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.runUpTo(t, 1)
	if !strings.Contains(f.images.last.Prompt, "5-year-old") {
		t.Fatalf("scene prompt lacks age descriptor: %s", f.images.last.Prompt)
	}
	if f.images.last.Seed < 1 {
		t.Fatalf("seed not set: %d", f.images.last.Seed)
	}
}

func TestImageStagesAreIdempotent(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.runUpTo(t, 1)
	before := f.images.count()

	cover := f.run(t, StageCover, 0)
	scene := f.run(t, StageSceneImage, 0)
	if f.images.count() != before {
		t.Fatalf("rerun called image service %d more times", f.images.count()-before)
	}
	if !cover.Cached || !scene.Cached {
		t.Fatal("rerun should report cached results")
	}
	job, _ := f.repo.GetJob(context.Background(), "job-mia")
	stored, _ := job.Progress.SceneImage(0)
	if scene.URL != stored.URL || scene.Seed != stored.Seed {
		t.Fatalf("rerun returned %s/%d, stored %s/%d", scene.URL, scene.Seed, stored.URL, stored.Seed)
	}
}

func TestFinalizeReportsMissingScenes(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.runUpTo(t, 1)
	f.run(t, StageSceneText, 2)

	_, err := f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: StageFinalize})
	if !errors.Is(err, domain.ErrStageOrderViolation) {
		t.Fatalf("expected order violation, got %v", err)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || fmt.Sprint(se.MissingScenes) != "[2 3]" {
		t.Fatalf("missing scenes = %v", se)
	}
	job, _ := f.repo.GetJob(context.Background(), "job-mia")
	if job.Book != nil || job.Status == domain.JobStatusComplete {
		t.Fatal("partial book must not be stored")
	}
}

func TestRejectsDraftJob(t *testing.T) {
	f := newFixture(t, domain.JobStatusDraft)
	_, err := f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: StageOutline})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInvocationErrors(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.run(t, StageOutline, 0)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown stage", Request{JobID: "job-mia", Stage: "layout"}, domain.ErrValidation},
		{"unknown job", Request{JobID: "nope", Stage: StageOutline}, domain.ErrNotFound},
		{"index out of range", Request{JobID: "job-mia", Stage: StageSceneText, SceneIndex: 3}, domain.ErrValidation},
		{"negative index", Request{JobID: "job-mia", Stage: StageSceneImage, SceneIndex: -1}, domain.ErrValidation},
		{"image before descriptions", Request{JobID: "job-mia", Stage: StageSceneImage}, domain.ErrStageOrderViolation},
		{"cover before descriptions", Request{JobID: "job-mia", Stage: StageCover}, domain.ErrStageOrderViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ctrl.Run(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
	if f.images.count() != 0 {
		t.Fatal("rejected invocations must not call the image service")
	}
}

func TestStagesBeforeOutlineAreOrderViolations(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	for _, stage := range []Stage{StageCharacterConsistency, StageSceneText, StageFinalize} {
		_, err := f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: stage})
		if !errors.Is(err, domain.ErrStageOrderViolation) {
			t.Fatalf("%s: expected order violation, got %v", stage, err)
		}
	}
}

func TestUpstreamFailureWritesNothing(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.run(t, StageOutline, 0)
	f.run(t, StageCharacterConsistency, 0)
	f.run(t, StageSceneText, 1)
	f.images.fail = errors.New("model overloaded")

	_, err := f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: StageSceneImage, SceneIndex: 1})
	if !errors.Is(err, domain.ErrUpstreamGeneration) || !domain.Retryable(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
	if !strings.Contains(err.Error(), "scene 2") {
		t.Fatalf("error does not name the scene: %v", err)
	}
	job, _ := f.repo.GetJob(context.Background(), "job-mia")
	if job.Progress.Has(domain.SceneImageKey(1)) {
		t.Fatal("failed stage persisted a result")
	}

	f.images.fail = nil
	out := f.run(t, StageSceneImage, 1)
	if out.URL == "" || out.SceneNumber != 2 {
		t.Fatalf("retry output = %+v", out)
	}
}

func TestConcurrentSceneImageIsInFlight(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.run(t, StageOutline, 0)
	f.run(t, StageCharacterConsistency, 0)

	held, err := f.locker.Acquire(context.Background(), lease.Key("job-mia", string(StageSceneImage), 0), time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	_, err = f.ctrl.Run(context.Background(), Request{JobID: "job-mia", Stage: StageSceneImage})
	if !errors.Is(err, domain.ErrStageInFlight) || !domain.Retryable(err) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
	_ = held.Release(context.Background())
	if out := f.run(t, StageSceneImage, 0); out.Cached {
		t.Fatal("first successful run should not be cached")
	}
}

func TestSceneImageUsesCallerPageTextWithoutSceneText(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.run(t, StageOutline, 0)
	f.run(t, StageCharacterConsistency, 0)
	_, err := f.ctrl.Run(context.Background(), Request{
		JobID:    "job-mia",
		Stage:    StageSceneImage,
		PageText: "Mia found a glowing lantern by the river",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !strings.Contains(f.images.last.Prompt, "glowing lantern") {
		t.Fatalf("page text not used: %s", f.images.last.Prompt)
	}
}

func TestOutlineResumesFailedJob(t *testing.T) {
	f := newFixture(t, domain.JobStatusPaid)
	f.runUpTo(t, 3)
	ctx := context.Background()
	if err := f.repo.MarkFailed(ctx, "job-mia", "scene_image (scene 2) failed"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}

	if _, err := f.ctrl.Run(ctx, Request{JobID: "job-mia", Stage: StageFinalize}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("finalize on failed job: %v", err)
	}
	if out := f.run(t, StageOutline, 0); !out.Cached {
		t.Fatal("resumed outline should be cached")
	}
	job, _ := f.repo.GetJob(ctx, "job-mia")
	if job.Status != domain.JobStatusGenerating {
		t.Fatalf("status after resume = %s", job.Status)
	}
	if out := f.run(t, StageFinalize, 0); len(out.BookContent.Pages) != 9 {
		t.Fatalf("pages = %d", len(out.BookContent.Pages))
	}
}
