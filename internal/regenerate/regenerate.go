package regenerate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"storybook/internal/domain"
	"storybook/internal/lease"
	"storybook/internal/providers/image"
	"storybook/internal/storage"
)

const stageName = "regenerate"

// Result is the outcome of one regeneration.
type Result struct {
	SceneNumber      int    `json:"sceneNumber"`
	URL              string `json:"url"`
	Seed             int64  `json:"seed"`
	CreditsRemaining int    `json:"creditsRemaining"`
}

// Config tunes regeneration.
type Config struct {
	AspectRatio string
	Timeout     time.Duration
}

// Service redraws one illustration of a finished book, paid for with one
// regeneration credit.
type Service struct {
	repo    domain.JobRepository
	images  image.Generator
	objects storage.ObjectStore
	locker  lease.Locker
	cfg     Config
	seed    func() int64
	logger  zerolog.Logger
}

func NewService(repo domain.JobRepository, images image.Generator, objects storage.ObjectStore, locker lease.Locker, cfg Config, logger zerolog.Logger) *Service {
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = "4:3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Minute
	}
	if locker == nil {
		locker = lease.NewMemoryLocker()
	}
	return &Service{
		repo:    repo,
		images:  images,
		objects: objects,
		locker:  locker,
		cfg:     cfg,
		seed:    image.RandomSeed,
		logger:  logger.With().Str("component", "regenerate").Logger(),
	}
}

// Regenerate redraws sceneNumber with its persisted prompts and a new seed.
// The credit is reserved before generating and refunded if anything after
// the reservation fails.
func (s *Service) Regenerate(ctx context.Context, jobID string, sceneNumber int) (*Result, error) {
	entity := domain.SceneEntity(sceneNumber)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if _, err := s.illustration(ctx, jobID, sceneNumber); err != nil {
		return nil, err
	}

	// Requests for the same scene queue behind each other; the credit check
	// below then decides who may redraw.
	held, err := lease.AcquireWait(ctx, s.locker, lease.Key(jobID, stageName, sceneNumber), s.cfg.Timeout+30*time.Second, 200*time.Millisecond)
	if errors.Is(err, lease.ErrHeld) {
		return nil, domain.NewStageError(domain.KindStageInFlight, stageName, entity, err)
	}
	if err != nil {
		return nil, domain.NewStageError(domain.KindInternal, stageName, entity, err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("release lease")
		}
	}()

	// The previous holder may have replaced the seed while we waited.
	meta, err := s.illustration(ctx, jobID, sceneNumber)
	if err != nil {
		return nil, err
	}

	remaining, err := s.repo.ConsumeRegenerationCredit(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrCreditExhausted) {
			return nil, domain.NewStageError(domain.KindCreditExhausted, stageName, entity, err)
		}
		return nil, domain.NewStageError(domain.KindInternal, stageName, entity, err)
	}

	res, err := s.redraw(ctx, jobID, meta)
	if err != nil {
		if rerr := s.repo.RefundRegenerationCredit(context.WithoutCancel(ctx), jobID); rerr != nil {
			s.logger.Error().Err(rerr).Str("job_id", jobID).Int("scene", sceneNumber).Msg("refund regeneration credit")
		}
		return nil, err
	}
	res.CreditsRemaining = remaining
	s.logger.Info().Str("job_id", jobID).Int("scene", sceneNumber).Int64("seed", res.Seed).Int("credits", remaining).Msg("illustration regenerated")
	return res, nil
}

// illustration loads the current metadata of sceneNumber from a complete book.
func (s *Service) illustration(ctx context.Context, jobID string, sceneNumber int) (domain.IllustrationMetadata, error) {
	entity := domain.SceneEntity(sceneNumber)
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.IllustrationMetadata{}, domain.NewStageError(domain.KindNotFound, stageName, "job "+jobID, err)
		}
		return domain.IllustrationMetadata{}, domain.NewStageError(domain.KindInternal, stageName, "job "+jobID, err)
	}
	if job.Status != domain.JobStatusComplete || job.Book == nil {
		return domain.IllustrationMetadata{}, domain.NewStageError(domain.KindValidation, stageName, entity,
			fmt.Errorf("job status %s: only complete books can be regenerated", job.Status))
	}
	meta, ok := job.Book.Metadata(sceneNumber)
	if !ok {
		return domain.IllustrationMetadata{}, domain.NewStageError(domain.KindNotFound, stageName, entity, errors.New("no illustration metadata"))
	}
	return meta, nil
}

func (s *Service) redraw(ctx context.Context, jobID string, meta domain.IllustrationMetadata) (*Result, error) {
	entity := domain.SceneEntity(meta.SceneNumber)
	seed := s.seed()
	for seed == meta.Seed {
		seed = s.seed()
	}
	asset, err := s.images.Generate(ctx, image.GenerateRequest{
		Prompt:         meta.IllustrationPrompt,
		NegativePrompt: meta.NegativePrompt,
		Seed:           seed,
		AspectRatio:    s.cfg.AspectRatio,
		References:     meta.ReferenceImages,
		RequestID:      fmt.Sprintf("%s:%s:%s", jobID, stageName, entity),
	})
	if err != nil {
		return nil, domain.NewStageError(domain.KindUpstreamGeneration, stageName, entity, err)
	}
	url, err := s.objects.Put(ctx, storage.SceneKey(jobID, meta.SceneNumber, seed), asset.Data, storage.ContentType(asset.Format))
	if err != nil {
		return nil, domain.NewStageError(domain.KindInternal, stageName, entity, fmt.Errorf("upload illustration: %w", err))
	}
	if err := s.repo.ReplaceSceneIllustration(ctx, jobID, meta.SceneNumber, url, seed); err != nil {
		return nil, domain.NewStageError(domain.KindInternal, stageName, entity, err)
	}
	return &Result{SceneNumber: meta.SceneNumber, URL: url, Seed: seed}, nil
}
