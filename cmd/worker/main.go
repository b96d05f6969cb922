package main

import (
	"context"
	"os/signal"
	"syscall"

	"storybook/internal/bootstrap"
	"storybook/internal/infra"
	"storybook/internal/orchestrator"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire components")
	}
	defer components.Close()

	srv, mux := orchestrator.NewServer(infra.AsynqRedisOpt(cfg), orchestrator.ServerConfig{
		Concurrency: cfg.WorkerConcurrency,
	}, components.Orchestrator, logger)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker: started")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker: stopped")
}
