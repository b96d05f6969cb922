package orchestrator

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// ServerConfig sizes the worker.
type ServerConfig struct {
	Concurrency int
}

// NewServer builds the asynq server and mux serving stage tasks.
func NewServer(opt asynq.RedisConnOpt, cfg ServerConfig, o *Orchestrator, logger zerolog.Logger) (*asynq.Server, *asynq.ServeMux) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         map[string]int{QueueBooks: 1},
		RetryDelayFunc: o.RetryDelay,
		IsFailure:      IsFailure,
		ErrorHandler:   asynq.ErrorHandlerFunc(o.HandleError),
		Logger:         asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeStage, o)
	return srv, mux
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
