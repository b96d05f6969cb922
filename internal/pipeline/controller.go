package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/consistency"
	"storybook/internal/domain"
	"storybook/internal/lease"
	"storybook/internal/prompt"
	"storybook/internal/providers/image"
	"storybook/internal/providers/text"
	"storybook/internal/storage"
	"storybook/internal/store"
)

// Config bounds and tunes stage execution.
type Config struct {
	StageTimeout                time.Duration
	LeaseTTL                    time.Duration
	CoverReferencesPerCharacter int
	AspectRatio                 string
}

// Deps are the collaborators of the controller.
type Deps struct {
	Store       *store.Store
	Text        text.Generator
	Images      image.Generator
	Objects     storage.ObjectStore
	Consistency *consistency.Service
	Synthesizer *prompt.Synthesizer
	Locker      lease.Locker
	Logger      zerolog.Logger
}

// Controller runs one stage per invocation. It keeps no state between
// invocations; everything it needs is loaded from the store.
type Controller struct {
	store       *store.Store
	text        text.Generator
	images      image.Generator
	objects     storage.ObjectStore
	consistency *consistency.Service
	synth       *prompt.Synthesizer
	locker      lease.Locker
	cfg         Config
	seed        func() int64
	logger      zerolog.Logger
	executors   map[Stage]executor
}

type executor func(ctx context.Context, inv *invocation) (*Output, error)

// invocation is the per-call state shared by an executor.
type invocation struct {
	req     Request
	session *store.Session
	job     *domain.Job
}

func New(deps Deps, cfg Config) *Controller {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 4 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.StageTimeout + 30*time.Second
	}
	if cfg.CoverReferencesPerCharacter <= 0 {
		cfg.CoverReferencesPerCharacter = 1
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = "4:3"
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = prompt.NewSynthesizer(nil)
	}
	if deps.Consistency == nil {
		deps.Consistency = consistency.NewService(deps.Text, 0, deps.Logger)
	}
	if deps.Locker == nil {
		deps.Locker = lease.NewMemoryLocker()
	}
	c := &Controller{
		store:       deps.Store,
		text:        deps.Text,
		images:      deps.Images,
		objects:     deps.Objects,
		consistency: deps.Consistency,
		synth:       deps.Synthesizer,
		locker:      deps.Locker,
		cfg:         cfg,
		seed:        image.RandomSeed,
		logger:      deps.Logger.With().Str("component", "pipeline").Logger(),
	}
	c.executors = map[Stage]executor{
		StageOutline:              c.runOutline,
		StageCharacterConsistency: c.runCharacterConsistency,
		StageCover:                c.runCover,
		StageSceneText:            c.runSceneText,
		StageSceneImage:           c.runSceneImage,
		StageFinalize:             c.runFinalize,
	}
	return c
}

// Run executes req.Stage for req.JobID within the configured stage budget.
func (c *Controller) Run(ctx context.Context, req Request) (*Output, error) {
	stage, err := ParseStage(string(req.Stage))
	if err != nil {
		return nil, err
	}
	req.Stage = stage
	if req.JobID == "" {
		return nil, domain.NewStageError(domain.KindValidation, string(stage), "", errors.New("job id is required"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StageTimeout)
	defer cancel()

	session, err := c.store.Session(ctx)
	if err != nil {
		return nil, domain.NewStageError(domain.KindInternal, string(stage), "", err)
	}
	defer session.Close()

	job, err := session.Load(ctx, req.JobID)
	if err != nil {
		return nil, c.loadError(stage, req.JobID, err)
	}
	if !job.Status.Runnable() {
		return nil, domain.NewStageError(domain.KindValidation, string(stage), "job "+job.ID,
			fmt.Errorf("job status %s does not allow generation", job.Status))
	}
	if stage.PerScene() {
		if n := job.Settings.TargetSceneCount(); req.SceneIndex < 0 || req.SceneIndex >= n {
			return nil, domain.NewStageError(domain.KindValidation, string(stage), "",
				fmt.Errorf("scene index %d out of range [0,%d)", req.SceneIndex, n))
		}
	}

	log := c.logger.With().Str("job_id", job.ID).Str("stage", string(stage)).Logger()
	if stage.PerScene() {
		log = log.With().Int("scene_index", req.SceneIndex).Logger()
	}
	start := time.Now()
	out, err := c.executors[stage](ctx, &invocation{req: req, session: session, job: job})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && domain.KindOf(err) == domain.KindInternal {
			err = domain.NewStageError(domain.KindUpstreamGeneration, string(stage), "", fmt.Errorf("stage budget exceeded: %w", err))
		}
		log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Dur("elapsed", time.Since(start)).Msg("stage failed")
		return nil, err
	}
	log.Info().Bool("cached", out.Cached).Dur("elapsed", time.Since(start)).Msg("stage complete")
	return out, nil
}

func (c *Controller) loadError(stage Stage, jobID string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewStageError(domain.KindNotFound, string(stage), "job "+jobID, err)
	}
	return domain.NewStageError(domain.KindInternal, string(stage), "job "+jobID, err)
}

// commit performs the single merge write of a stage.
func (c *Controller) commit(ctx context.Context, inv *invocation, entity string, update domain.ProgressUpdate) (*domain.Job, error) {
	job, err := inv.session.MergeVerified(ctx, inv.job.ID, update)
	if err != nil {
		kind := domain.KindInternal
		if errors.Is(err, domain.ErrPersistenceInconsistency) {
			kind = domain.KindPersistenceInconsistency
		}
		return nil, domain.NewStageError(kind, string(inv.req.Stage), entity, err)
	}
	inv.job = job
	return job, nil
}

// reload refreshes the job inside the session, used after a lease is taken
// to observe a result another holder may have just written.
func (c *Controller) reload(ctx context.Context, inv *invocation) error {
	job, err := inv.session.Load(ctx, inv.job.ID)
	if err != nil {
		return c.loadError(inv.req.Stage, inv.job.ID, err)
	}
	inv.job = job
	return nil
}

// acquire takes the single-flight lease of a unit of work.
func (c *Controller) acquire(ctx context.Context, inv *invocation, index int, entity string) (lease.Lease, error) {
	l, err := c.locker.Acquire(ctx, lease.Key(inv.job.ID, string(inv.req.Stage), index), c.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		return nil, domain.NewStageError(domain.KindStageInFlight, string(inv.req.Stage), entity, err)
	}
	if err != nil {
		return nil, domain.NewStageError(domain.KindInternal, string(inv.req.Stage), entity, err)
	}
	return l, nil
}

func (c *Controller) release(l lease.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("release lease")
	}
}
