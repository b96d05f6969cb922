package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
)

// Store is the progress/state store. Writes are shallow key unions into the
// job accumulator; reads within one Session observe earlier writes, and
// MergeVerified falls back to a direct read when they do not.
type Store struct {
	repo   domain.SessionRepository
	logger zerolog.Logger
}

func New(repo domain.SessionRepository, logger zerolog.Logger) *Store {
	return &Store{repo: repo, logger: logger.With().Str("component", "store").Logger()}
}

// Session is a store view pinned to one connection for a pipeline invocation.
type Session struct {
	repo    domain.JobRepository
	parent  *Store
	release func()
}

// Session opens a pinned session. Close must be called when done.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	repo, release, err := s.repo.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store session: %w", err)
	}
	return &Session{repo: repo, parent: s, release: release}, nil
}

func (s *Session) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Load reads the job through the session.
func (s *Session) Load(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// LoadDirect reads the job outside the session.
func (s *Store) LoadDirect(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJobDirect(ctx, jobID)
}

// Load reads the job through the shared pool.
func (s *Store) Load(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

// Merge applies update without verification.
func (s *Session) Merge(ctx context.Context, jobID string, update domain.ProgressUpdate) error {
	return s.repo.MergeProgress(ctx, jobID, update)
}

// MergeVerified applies update and returns the job as it is after the write.
// When the session read does not observe the written keys, the documented
// fallback reads directly; if that also misses them the write is reported as
// a persistence inconsistency.
func (s *Session) MergeVerified(ctx context.Context, jobID string, update domain.ProgressUpdate) (*domain.Job, error) {
	if err := s.repo.MergeProgress(ctx, jobID, update); err != nil {
		return nil, err
	}
	keys := update.Keys()

	job, err := s.repo.GetJob(ctx, jobID)
	if err == nil && hasAll(job, keys) {
		return job, nil
	}
	log := s.parent.logger.Warn().Str("job_id", jobID).Strs("keys", keys)
	if err != nil {
		log = log.Err(err)
	}
	log.Msg("session read missed own write, using direct read")

	job, err = s.parent.repo.GetJobDirect(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: direct read: %w", domain.ErrPersistenceInconsistency, err)
	}
	if !hasAll(job, keys) {
		return nil, fmt.Errorf("%w: keys %v not visible after write", domain.ErrPersistenceInconsistency, missing(job, keys))
	}
	return job, nil
}

func hasAll(job *domain.Job, keys []string) bool {
	return len(missing(job, keys)) == 0
}

func missing(job *domain.Job, keys []string) []string {
	var out []string
	for _, k := range keys {
		if job == nil || !job.Progress.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Repository exposes the session's repository for operations that are not
// progress merges.
func (s *Session) Repository() domain.JobRepository { return s.repo }
