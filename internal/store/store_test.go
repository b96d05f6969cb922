package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"storybook/internal/adapter/repo"
	"storybook/internal/domain"
)

// laggingRepo hides the most recent write from session reads, and optionally
// from direct reads too.
type laggingRepo struct {
	*repo.MemoryJobRepository
	staleSession bool
	staleDirect  bool
	snapshot     *domain.Job
	directReads  int
	released     int
}

func (l *laggingRepo) Session(context.Context) (domain.JobRepository, func(), error) {
	return &laggingSession{l}, func() { l.released++ }, nil
}

func (l *laggingRepo) GetJobDirect(ctx context.Context, jobID string) (*domain.Job, error) {
	l.directReads++
	if l.staleDirect {
		return l.snapshot, nil
	}
	return l.MemoryJobRepository.GetJob(ctx, jobID)
}

type laggingSession struct{ *laggingRepo }

func (s *laggingSession) MergeProgress(ctx context.Context, jobID string, u domain.ProgressUpdate) error {
	before, err := s.MemoryJobRepository.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	s.snapshot = before
	return s.MemoryJobRepository.MergeProgress(ctx, jobID, u)
}

func (s *laggingSession) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if s.staleSession {
		return s.snapshot, nil
	}
	return s.MemoryJobRepository.GetJob(ctx, jobID)
}

func newLagging(t *testing.T) *laggingRepo {
	t.Helper()
	mem := repo.NewMemoryJobRepository()
	if err := mem.CreateJob(context.Background(), &domain.Job{ID: "job-1", Status: domain.JobStatusPaid}); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	return &laggingRepo{MemoryJobRepository: mem}
}

func coverUpdate() domain.ProgressUpdate {
	return domain.ProgressUpdate{
		Stage: domain.ProgressCover,
		Data:  map[string]any{domain.KeyCoverURL: "https://cdn/cover.png"},
	}
}

func TestMergeVerifiedSessionRead(t *testing.T) {
	lag := newLagging(t)
	s := New(lag, zerolog.Nop())
	sess, err := s.Session(context.Background())
	if err != nil {
		t.Fatalf("Session error: %v", err)
	}
	defer sess.Close()

	job, err := sess.MergeVerified(context.Background(), "job-1", coverUpdate())
	if err != nil {
		t.Fatalf("MergeVerified error: %v", err)
	}
	if !job.Progress.Has(domain.KeyCoverURL) || lag.directReads != 0 {
		t.Fatalf("expected session read to suffice, direct reads=%d", lag.directReads)
	}
}

func TestMergeVerifiedFallsBackToDirectRead(t *testing.T) {
	lag := newLagging(t)
	lag.staleSession = true
	s := New(lag, zerolog.Nop())
	sess, _ := s.Session(context.Background())

	job, err := sess.MergeVerified(context.Background(), "job-1", coverUpdate())
	if err != nil {
		t.Fatalf("MergeVerified error: %v", err)
	}
	if lag.directReads != 1 {
		t.Fatalf("expected one direct read, got %d", lag.directReads)
	}
	var url string
	if _, err := job.Progress.Decode(domain.KeyCoverURL, &url); err != nil || url != "https://cdn/cover.png" {
		t.Fatalf("fallback returned wrong data: %q %v", url, err)
	}

	sess.Close()
	sess.Close()
	if lag.released != 1 {
		t.Fatalf("release should run exactly once, got %d", lag.released)
	}
}

func TestMergeVerifiedReportsInconsistency(t *testing.T) {
	lag := newLagging(t)
	lag.staleSession = true
	lag.staleDirect = true
	s := New(lag, zerolog.Nop())
	sess, _ := s.Session(context.Background())
	defer sess.Close()

	_, err := sess.MergeVerified(context.Background(), "job-1", coverUpdate())
	if !errors.Is(err, domain.ErrPersistenceInconsistency) {
		t.Fatalf("expected ErrPersistenceInconsistency, got %v", err)
	}
}

func TestMergeNeverDropsKeys(t *testing.T) {
	mem := repo.NewMemoryJobRepository()
	_ = mem.CreateJob(context.Background(), &domain.Job{ID: "job-1", Status: domain.JobStatusPaid})
	s := New(mem, zerolog.Nop())
	sess, _ := s.Session(context.Background())
	defer sess.Close()

	ctx := context.Background()
	_ = sess.Merge(ctx, "job-1", domain.ProgressUpdate{Data: map[string]any{"a": 1, "b": 2}})
	_ = sess.Merge(ctx, "job-1", domain.ProgressUpdate{Data: map[string]any{"b": 3}})
	_ = sess.Merge(ctx, "job-1", domain.ProgressUpdate{})

	job, _ := sess.Load(ctx, "job-1")
	if string(job.Progress.Data["a"]) != "1" || string(job.Progress.Data["b"]) != "3" {
		t.Fatalf("unexpected data: %v", mustJSON(job.Progress.Data))
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
