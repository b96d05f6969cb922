package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/sqlinline"
)

// sessionFunc pins one connection and returns an executor bound to it.
type sessionFunc func(ctx context.Context) (infra.TxExecutor, func(), error)

// JobRepositoryPG implements domain.SessionRepository on PostgreSQL.
type JobRepositoryPG struct {
	db      infra.TxExecutor
	direct  infra.TxExecutor
	session sessionFunc
}

// NewJobRepository creates a job repository that runs statements through runner.
func NewJobRepository(runner *infra.SQLRunner) *JobRepositoryPG {
	return &JobRepositoryPG{
		db:     runner,
		direct: runner,
		session: func(ctx context.Context) (infra.TxExecutor, func(), error) {
			s, release, err := runner.Session(ctx)
			if err != nil {
				return nil, nil, err
			}
			return s, release, nil
		},
	}
}

// Session returns a repository whose statements all run on one pinned connection.
func (r *JobRepositoryPG) Session(ctx context.Context) (domain.JobRepository, func(), error) {
	if r.session == nil {
		return r, func() {}, nil
	}
	exec, release, err := r.session(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &JobRepositoryPG{db: exec, direct: r.direct, session: nil}, release, nil
}

// GetJob loads a job with its characters.
func (r *JobRepositoryPG) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, r.db, jobID)
}

// GetJobDirect loads a job through the pool, outside any pinned session.
func (r *JobRepositoryPG) GetJobDirect(ctx context.Context, jobID string) (*domain.Job, error) {
	return getJob(ctx, r.direct, jobID)
}

func getJob(ctx context.Context, db infra.SQLExecutor, jobID string) (*domain.Job, error) {
	var (
		job                       domain.Job
		status, stage             string
		settings, data, bookBytes []byte
	)
	err := db.QueryRow(ctx, sqlinline.QSelectBookJob, jobID).Scan(
		&job.ID,
		&job.UserID,
		&status,
		&settings,
		&job.RegenerationCredits,
		&stage,
		&job.Progress.StageProgress,
		&job.Progress.Message,
		&job.Progress.StartedAt,
		&data,
		&bookBytes,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select book job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.Progress.Stage = domain.ProgressStage(stage)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	job.Progress.Data = map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &job.Progress.Data); err != nil {
			return nil, fmt.Errorf("decode progress data: %w", err)
		}
	}
	if len(bookBytes) > 0 && string(bookBytes) != "null" {
		var book domain.Book
		if err := json.Unmarshal(bookBytes, &book); err != nil {
			return nil, fmt.Errorf("decode book: %w", err)
		}
		job.Book = &book
	}

	chars, err := listCharacters(ctx, db, jobID)
	if err != nil {
		return nil, err
	}
	job.Characters = chars
	return &job, nil
}

func listCharacters(ctx context.Context, db infra.SQLExecutor, jobID string) ([]domain.Character, error) {
	rows, err := db.Query(ctx, sqlinline.QListBookCharacters, jobID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var items []domain.Character
	for rows.Next() {
		var (
			c                    domain.Character
			entity, role, avatar string
		)
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&entity,
			&c.Gender,
			&c.Age,
			&c.PhotoURL,
			&avatar,
			&c.Description,
			&c.ClothingStyle,
			&c.StoryRole,
			&role,
			&c.ArtStyle,
		); err != nil {
			return nil, err
		}
		c.EntityType = domain.ParseEntityType(entity)
		c.Role = domain.CharacterRole(role)
		c.Avatar = domain.ParseAvatar(avatar)
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// MergeProgress applies update in a single statement.
func (r *JobRepositoryPG) MergeProgress(ctx context.Context, jobID string, update domain.ProgressUpdate) error {
	patch, err := update.EncodeData()
	if err != nil {
		return fmt.Errorf("encode progress patch: %w", err)
	}
	var bookJSON []byte
	if update.Book != nil {
		if bookJSON, err = json.Marshal(update.Book); err != nil {
			return fmt.Errorf("encode book: %w", err)
		}
	}
	allowed := []string{}
	if update.Status != "" {
		for _, s := range domain.AllowedFrom(update.Status) {
			allowed = append(allowed, string(s))
		}
	}

	var status string
	err = r.db.QueryRow(ctx, sqlinline.QMergeBookProgress,
		jobID,
		string(patch),
		update.Stage.Rank(),
		string(update.Stage),
		clampPercent(update.StageProgress),
		update.Message,
		string(update.Status),
		allowed,
		bookJSON,
	).Scan(&status)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("merge progress: %w", err)
	}
	return nil
}

// ConsumeRegenerationCredit decrements credits with a single conditional update.
func (r *JobRepositoryPG) ConsumeRegenerationCredit(ctx context.Context, jobID string) (int, error) {
	var remaining int
	err := r.db.QueryRow(ctx, sqlinline.QConsumeRegenerationCredit, jobID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !infra.IsNoRows(err) {
		return 0, fmt.Errorf("consume credit: %w", err)
	}
	var status string
	if err := r.db.QueryRow(ctx, sqlinline.QSelectBookJobStatus, jobID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("select job status: %w", err)
	}
	return 0, domain.ErrCreditExhausted
}

func (r *JobRepositoryPG) RefundRegenerationCredit(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QRefundRegenerationCredit, jobID)
	if err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPG) GrantRegenerationCredits(ctx context.Context, jobID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: credits to grant must be positive", domain.ErrValidation)
	}
	var total int
	if err := r.db.QueryRow(ctx, sqlinline.QGrantRegenerationCredits, jobID, n).Scan(&total); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return total, nil
}

// ReplaceSceneIllustration rewrites the stored book under a row lock and
// updates the scene's accumulator entry in the same statement.
func (r *JobRepositoryPG) ReplaceSceneIllustration(ctx context.Context, jobID string, sceneNumber int, url string, seed int64) error {
	return r.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		var raw []byte
		if err := tx.QueryRow(ctx, sqlinline.QLockBookForUpdate, jobID).Scan(&raw); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock book: %w", err)
		}
		if len(raw) == 0 || string(raw) == "null" {
			return fmt.Errorf("%w: book is not finalized", domain.ErrNotFound)
		}
		var book domain.Book
		if err := json.Unmarshal(raw, &book); err != nil {
			return fmt.Errorf("decode book: %w", err)
		}
		if !book.ReplaceIllustration(sceneNumber, url, seed) {
			return fmt.Errorf("%w: scene %d has no illustration page", domain.ErrNotFound, sceneNumber)
		}
		updated, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("encode book: %w", err)
		}
		key := domain.SceneImageKey(sceneNumber - 1)
		if _, err := tx.Exec(ctx, sqlinline.QReplaceSceneIllustration, jobID, updated, key, url, seed); err != nil {
			return fmt.Errorf("update book: %w", err)
		}
		return nil
	})
}

func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, message string) error {
	if _, err := r.db.Exec(ctx, sqlinline.QMarkBookJobFailed, jobID, message); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// CreateJob inserts a job and its characters in one transaction.
func (r *JobRepositoryPG) CreateJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return r.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QInsertBookJob,
			job.ID, job.UserID, string(job.Status), settings, job.RegenerationCredits,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		for i, c := range job.Characters {
			if _, err := tx.Exec(ctx, sqlinline.QInsertBookCharacter,
				c.ID, job.ID, i, c.Name, string(c.EntityType), c.Gender, c.Age, c.PhotoURL,
				c.Avatar.Raw(), c.Description, c.ClothingStyle, c.StoryRole, string(c.Role), c.ArtStyle,
			); err != nil {
				return fmt.Errorf("insert character %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

var _ domain.SessionRepository = (*JobRepositoryPG)(nil)
