package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"storybook/internal/domain"
	"storybook/internal/pipeline"
)

// Runner executes one stage; *pipeline.Controller satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Output, error)
}

// JobReader loads the job state used to decide what comes next.
type JobReader interface {
	Load(ctx context.Context, jobID string) (*domain.Job, error)
}

// Failer records that a job could not be completed.
type Failer interface {
	MarkFailed(ctx context.Context, jobID, message string) error
}

// Enqueuer is the subset of *asynq.Client used by the orchestrator.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config bounds retries and per-task time.
type Config struct {
	MaxRetry     int
	StageTimeout time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// Orchestrator owns stage sequencing: it starts a run and, after every
// successful stage, enqueues the stages that became runnable.
type Orchestrator struct {
	queue  Enqueuer
	runner Runner
	jobs   JobReader
	failer Failer
	cfg    Config
	logger zerolog.Logger
}

func New(queue Enqueuer, runner Runner, jobs JobReader, failer Failer, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	return &Orchestrator{
		queue:  queue,
		runner: runner,
		jobs:   jobs,
		failer: failer,
		cfg:    cfg,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Start enqueues the first stage of a new run of a job. Completed stages are
// skipped by their completion markers, so Start also resumes a failed job.
// Every call opens a fresh run; overlapping runs converge because each stage
// is single-flight and idempotent.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	job, err := o.jobs.Load(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.Runnable() {
		return domain.NewStageError(domain.KindValidation, "", "job "+jobID,
			fmt.Errorf("job status %s does not allow generation", job.Status))
	}
	runID := uuid.NewString()[:8]
	o.logger.Info().Str("job_id", jobID).Str("run_id", runID).Str("status", string(job.Status)).Msg("run started")
	return o.enqueue(ctx, StagePayload{JobID: jobID, Stage: pipeline.StageOutline, RunID: runID})
}

func (o *Orchestrator) enqueue(ctx context.Context, p StagePayload) error {
	task, err := NewStageTask(p, o.cfg.MaxRetry, o.cfg.StageTimeout)
	if err != nil {
		return err
	}
	_, err = o.queue.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		o.logger.Debug().Str("task_id", p.TaskID()).Msg("stage already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", p.TaskID(), err)
	}
	return nil
}

// ProcessTask implements asynq.Handler.
func (o *Orchestrator) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := ParseStagePayload(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := o.logger.With().Str("job_id", p.JobID).Str("stage", string(p.Stage)).Int("scene_index", p.SceneIndex).Logger()

	if _, err := o.runner.Run(ctx, p.request()); err != nil {
		if !domain.Retryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	next, err := o.next(ctx, p)
	if err != nil {
		return err
	}
	for _, np := range next {
		if err := o.enqueue(ctx, np); err != nil {
			return err
		}
	}
	log.Debug().Int("enqueued", len(next)).Msg("stage done")
	return nil
}

// next lists the stages that follow a successful p.
func (o *Orchestrator) next(ctx context.Context, p StagePayload) ([]StagePayload, error) {
	at := func(stage pipeline.Stage, i int) StagePayload {
		return StagePayload{JobID: p.JobID, Stage: stage, SceneIndex: i, RunID: p.RunID}
	}
	switch p.Stage {
	case pipeline.StageOutline:
		return []StagePayload{at(pipeline.StageCharacterConsistency, 0)}, nil
	case pipeline.StageCharacterConsistency:
		return []StagePayload{at(pipeline.StageCover, 0)}, nil
	case pipeline.StageCover:
		return []StagePayload{at(pipeline.StageSceneText, 0)}, nil
	case pipeline.StageSceneText:
		n, _, err := o.sceneState(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		out := []StagePayload{at(pipeline.StageSceneImage, p.SceneIndex)}
		if p.SceneIndex+1 < n {
			out = append(out, at(pipeline.StageSceneText, p.SceneIndex+1))
		}
		return out, nil
	case pipeline.StageSceneImage:
		n, images, err := o.sceneState(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		if images == n {
			return []StagePayload{at(pipeline.StageFinalize, 0)}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// sceneState returns the planned scene count and how many illustrations exist.
func (o *Orchestrator) sceneState(ctx context.Context, jobID string) (int, int, error) {
	job, err := o.jobs.Load(ctx, jobID)
	if err != nil {
		return 0, 0, err
	}
	outline, err := job.Progress.Outline()
	if err != nil {
		return 0, 0, err
	}
	n := job.Settings.TargetSceneCount()
	if outline != nil {
		n = outline.SceneCount()
	}
	images := 0
	for i := 0; i < n; i++ {
		if job.Progress.Has(domain.SceneImageKey(i)) {
			images++
		}
	}
	return n, images, nil
}

// RetryDelay backs off exponentially from BaseDelay up to MaxDelay. A stage
// held by another invocation is retried after the base delay.
func (o *Orchestrator) RetryDelay(n int, err error, _ *asynq.Task) time.Duration {
	if errors.Is(err, domain.ErrStageInFlight) {
		return o.cfg.BaseDelay
	}
	d := o.cfg.BaseDelay
	for i := 0; i < n && d < o.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, o.cfg.MaxDelay)
}

// IsFailure keeps in-flight conflicts from consuming the retry budget.
func IsFailure(err error) bool {
	return !errors.Is(err, domain.ErrStageInFlight)
}

// HandleError marks the job failed once a stage will not be retried again.
func (o *Orchestrator) HandleError(ctx context.Context, t *asynq.Task, err error) {
	p, perr := ParseStagePayload(t)
	if perr != nil {
		o.logger.Error().Err(err).Msg("stage task with invalid payload failed")
		return
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log := o.logger.With().Str("job_id", p.JobID).Str("stage", string(p.Stage)).Int("retried", retried).Logger()
	if !errors.Is(err, asynq.SkipRetry) && retried < maxRetry {
		log.Warn().Err(err).Msg("stage failed, will retry")
		return
	}
	message := fmt.Sprintf("%s failed after %d attempts: %v", unitLabel(p), retried+1, err)
	if ferr := o.failer.MarkFailed(context.WithoutCancel(ctx), p.JobID, message); ferr != nil {
		log.Error().Err(ferr).Msg("mark job failed")
		return
	}
	log.Error().Err(err).Msg("job marked failed")
}

func unitLabel(p StagePayload) string {
	if p.Stage.PerScene() {
		return fmt.Sprintf("%s (%s)", p.Stage, domain.SceneEntity(p.SceneIndex+1))
	}
	return string(p.Stage)
}

var _ asynq.Handler = (*Orchestrator)(nil)
