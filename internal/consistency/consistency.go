package consistency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"storybook/internal/domain"
	"storybook/internal/providers/text"
)

const stageName = "character_consistency"

// Service computes one stable visual description per character and serves
// the persisted set back to illustration stages.
type Service struct {
	gen      text.Generator
	memo     *cache.Cache
	group    singleflight.Group
	parallel int
	logger   zerolog.Logger
}

// NewService builds a service that describes at most parallel characters at once.
func NewService(gen text.Generator, parallel int, logger zerolog.Logger) *Service {
	if parallel <= 0 {
		parallel = 4
	}
	return &Service{
		gen:      gen,
		memo:     cache.New(30*time.Minute, time.Hour),
		parallel: parallel,
		logger:   logger.With().Str("component", "consistency").Logger(),
	}
}

// Compute generates the descriptions for every character of job, ordered
// like job.Characters. Concurrent calls for the same job share one run.
func (s *Service) Compute(ctx context.Context, job *domain.Job) ([]domain.CharacterDescription, error) {
	if job == nil {
		return nil, domain.NewStageError(domain.KindValidation, stageName, "", errors.New("job is required"))
	}
	if len(job.Characters) == 0 {
		return nil, domain.NewStageError(domain.KindValidation, stageName, "", errors.New("job has no characters"))
	}
	v, err, _ := s.group.Do(job.ID, func() (any, error) {
		return s.compute(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]domain.CharacterDescription)), nil
}

func (s *Service) compute(ctx context.Context, job *domain.Job) ([]domain.CharacterDescription, error) {
	out := make([]domain.CharacterDescription, len(job.Characters))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallel)
	for i, c := range job.Characters {
		eg.Go(func() error {
			desc, err := s.gen.CharacterDescription(egCtx, job, c)
			if err != nil {
				return domain.NewStageError(domain.KindUpstreamGeneration, stageName, domain.CharacterEntity(c), err)
			}
			desc = strings.TrimSpace(desc)
			if desc == "" {
				return domain.NewStageError(domain.KindUpstreamGeneration, stageName, domain.CharacterEntity(c), errors.New("empty description"))
			}
			out[i] = domain.CharacterDescription{CharacterID: c.ID, Name: c.DisplayName(), Description: desc}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("job_id", job.ID).Int("characters", len(out)).Msg("character descriptions computed")
	return out, nil
}

// Remember records the persisted descriptions of a job.
func (s *Service) Remember(jobID string, descriptions []domain.CharacterDescription) {
	s.memo.Set(jobID, clone(descriptions), cache.DefaultExpiration)
}

// Descriptions returns the persisted descriptions of job. It never calls the
// text service; a job without persisted descriptions is a stage order violation.
func (s *Service) Descriptions(job *domain.Job, stage string) ([]domain.CharacterDescription, error) {
	if v, ok := s.memo.Get(job.ID); ok {
		return clone(v.([]domain.CharacterDescription)), nil
	}
	descriptions, ok, err := job.Progress.CharacterDescriptions()
	if err != nil {
		return nil, domain.NewStageError(domain.KindPersistenceInconsistency, stage, "", err)
	}
	if !ok {
		return nil, domain.NewStageError(domain.KindStageOrderViolation, stage, "",
			fmt.Errorf("%s has not completed", stageName))
	}
	s.Remember(job.ID, descriptions)
	return clone(descriptions), nil
}

// Forget drops the memo of a job.
func (s *Service) Forget(jobID string) { s.memo.Delete(jobID) }

func clone(in []domain.CharacterDescription) []domain.CharacterDescription {
	return append([]domain.CharacterDescription(nil), in...)
}
