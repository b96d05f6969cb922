package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storybook/internal/domain"
)

// MemoryJobRepository is an in-process domain.SessionRepository used by
// STORE_DRIVER=memory and by tests. It applies the same merge rules as the
// Postgres statements.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: map[string]*domain.Job{}, now: time.Now}
}

// CreateJob stores a copy of job.
func (m *MemoryJobRepository) CreateJob(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s already exists", domain.ErrValidation, job.ID)
	}
	stored, err := cloneJob(job)
	if err != nil {
		return err
	}
	now := m.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	if stored.Progress.Data == nil {
		stored.Progress.Data = map[string]json.RawMessage{}
	}
	m.jobs[job.ID] = stored
	return nil
}

func (m *MemoryJobRepository) Session(context.Context) (domain.JobRepository, func(), error) {
	return m, func() {}, nil
}

func (m *MemoryJobRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job)
}

func (m *MemoryJobRepository) GetJobDirect(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.GetJob(ctx, jobID)
}

func (m *MemoryJobRepository) MergeProgress(_ context.Context, jobID string, update domain.ProgressUpdate) error {
	patch, err := update.EncodeData()
	if err != nil {
		return fmt.Errorf("encode progress patch: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("decode progress patch: %w", err)
	}
	var book *domain.Book
	if update.Book != nil {
		if book, err = cloneBook(update.Book); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		job.Progress.Data[k] = v
	}
	current := job.Progress.Stage.Rank()
	next := update.Stage.Rank()
	switch {
	case next > current:
		job.Progress.Stage = update.Stage
		job.Progress.StageProgress = clampPercent(update.StageProgress)
	case next == current && next > 0:
		job.Progress.StageProgress = max(job.Progress.StageProgress, clampPercent(update.StageProgress))
	}
	statusChange := update.Status != "" && job.Status.CanTransition(update.Status)
	if next >= current && update.Message != "" && (job.Status != domain.JobStatusFailed || statusChange) {
		job.Progress.Message = update.Message
	}
	if statusChange {
		job.Status = update.Status
	}
	if book != nil {
		job.Book = book
	}
	if job.Progress.StartedAt.IsZero() {
		job.Progress.StartedAt = m.now()
	}
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryJobRepository) ConsumeRegenerationCredit(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if job.RegenerationCredits <= 0 {
		return 0, domain.ErrCreditExhausted
	}
	job.RegenerationCredits--
	return job.RegenerationCredits, nil
}

func (m *MemoryJobRepository) RefundRegenerationCredit(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.RegenerationCredits++
	return nil
}

func (m *MemoryJobRepository) GrantRegenerationCredits(_ context.Context, jobID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: credits to grant must be positive", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	job.RegenerationCredits += n
	return job.RegenerationCredits, nil
}

func (m *MemoryJobRepository) ReplaceSceneIllustration(_ context.Context, jobID string, sceneNumber int, url string, seed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Book == nil {
		return fmt.Errorf("%w: book is not finalized", domain.ErrNotFound)
	}
	if !job.Book.ReplaceIllustration(sceneNumber, url, seed) {
		return fmt.Errorf("%w: scene %d has no illustration page", domain.ErrNotFound, sceneNumber)
	}
	key := domain.SceneImageKey(sceneNumber - 1)
	var si domain.SceneImage
	ok, err := job.Progress.Decode(key, &si)
	if err != nil {
		return err
	}
	if ok {
		si.URL, si.Seed = url, seed
		raw, err := json.Marshal(si)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		job.Progress.Data[key] = raw
	}
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryJobRepository) MarkFailed(_ context.Context, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == domain.JobStatusPaid || job.Status == domain.JobStatusGenerating {
		job.Status = domain.JobStatusFailed
		job.Progress.Message = message
		job.UpdatedAt = m.now()
	}
	return nil
}

func cloneJob(job *domain.Job) (*domain.Job, error) {
	out := *job
	out.Characters = append([]domain.Character(nil), job.Characters...)
	out.Progress.Data = make(map[string]json.RawMessage, len(job.Progress.Data))
	for k, v := range job.Progress.Data {
		out.Progress.Data[k] = append(json.RawMessage(nil), v...)
	}
	if job.Book != nil {
		book, err := cloneBook(job.Book)
		if err != nil {
			return nil, err
		}
		out.Book = book
	}
	return &out, nil
}

func cloneBook(book *domain.Book) (*domain.Book, error) {
	raw, err := json.Marshal(book)
	if err != nil {
		return nil, fmt.Errorf("encode book: %w", err)
	}
	var out domain.Book
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	return &out, nil
}

var _ domain.SessionRepository = (*MemoryJobRepository)(nil)
