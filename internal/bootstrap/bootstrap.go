// Package bootstrap wires the storybook components from configuration. The
// API and the worker share it so both processes build the same graph.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"storybook/internal/adapter/repo"
	"storybook/internal/consistency"
	"storybook/internal/db"
	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/infra/credentials"
	"storybook/internal/lease"
	"storybook/internal/orchestrator"
	"storybook/internal/pipeline"
	"storybook/internal/prompt"
	"storybook/internal/providers/genai"
	"storybook/internal/providers/image"
	"storybook/internal/providers/qwen"
	"storybook/internal/providers/text"
	"storybook/internal/regenerate"
	"storybook/internal/storage"
	"storybook/internal/store"
)

// Components is the wired application graph.
type Components struct {
	Repo         domain.SessionRepository
	Store        *store.Store
	Objects      storage.ObjectStore
	StaticDir    string
	Pipeline     *pipeline.Controller
	Regenerator  *regenerate.Service
	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build constructs every component. On error the partially built graph is
// closed before returning.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{}
	if err := c.build(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) error {
	var creds *credentials.Store
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("bootstrap: using in-memory job store")
		c.Repo = repo.NewMemoryJobRepository()
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		if err := migrate(ctx, pool); err != nil {
			return err
		}
		runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
		c.Repo = repo.NewJobRepository(runner)
		creds = credentials.NewStore(runner)
	}
	c.Store = store.New(c.Repo, logger)

	if err := c.buildObjects(ctx, cfg, creds, logger); err != nil {
		return err
	}

	geminiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if geminiKey == "" && creds != nil {
		stored, err := creds.GeminiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: failed to load gemini api key from store")
		}
		geminiKey = stored
	}
	geminiLogger := infra.Component(logger, "gemini")
	client, err := genai.NewClient(ctx, genai.Options{
		APIKey:     geminiKey,
		BaseURL:    cfg.GeminiBaseURL,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		HTTPClient: &http.Client{Timeout: cfg.StageTimeout},
		Logger:     &geminiLogger,
	})
	if err != nil {
		return fmt.Errorf("configure gemini client: %w", err)
	}

	var textGen text.Generator = text.NewGeminiGenerator(client)
	if client.Synthetic() {
		logger.Warn().Str("image_model", client.ImageModel()).Msg("bootstrap: gemini api key missing, using static text and synthetic gemini images")
		textGen = text.NewStaticGenerator()
	}
	images, err := buildImages(ctx, cfg, client, creds, logger)
	if err != nil {
		return err
	}

	tokens, err := loadTokens(cfg.PromptTokensPath)
	if err != nil {
		return err
	}

	locker := c.buildLocker(ctx, cfg, logger)

	c.Pipeline = pipeline.New(pipeline.Deps{
		Store:       c.Store,
		Text:        textGen,
		Images:      images,
		Objects:     c.Objects,
		Consistency: consistency.NewService(textGen, 4, logger),
		Synthesizer: prompt.NewSynthesizer(tokens),
		Locker:      locker,
		Logger:      logger,
	}, pipeline.Config{
		StageTimeout:                cfg.StageTimeout,
		CoverReferencesPerCharacter: cfg.CoverReferencesPerCharacter,
		AspectRatio:                 cfg.ImageAspectRatio,
	})

	c.Regenerator = regenerate.NewService(c.Repo, images, c.Objects, locker, regenerate.Config{
		AspectRatio: cfg.ImageAspectRatio,
		Timeout:     cfg.StageTimeout,
	}, logger)

	queue := asynq.NewClient(infra.AsynqRedisOpt(cfg))
	c.closers = append(c.closers, func() { _ = queue.Close() })
	c.Orchestrator = orchestrator.New(queue, c.Pipeline, c.Store, c.Repo, orchestrator.Config{
		MaxRetry:     cfg.StageMaxRetries,
		StageTimeout: cfg.StageTimeout,
	}, logger)

	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (c *Components) buildObjects(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger zerolog.Logger) error {
	if cfg.StorageDriver == infra.StorageDriverSupabase {
		key := cfg.SupabaseServiceKey
		if key == "" && creds != nil {
			stored, err := creds.SupabaseServiceKey(ctx)
			if err != nil {
				return fmt.Errorf("load supabase key: %w", err)
			}
			key = stored
		}
		if key == "" {
			return fmt.Errorf("SUPABASE_SERVICE_KEY is required for supabase storage")
		}
		objects, err := storage.NewSupabaseStore(cfg.SupabaseURL, key, cfg.SupabaseBucket)
		if err != nil {
			return fmt.Errorf("configure supabase storage: %w", err)
		}
		c.Objects = objects
		logger.Info().Str("bucket", cfg.SupabaseBucket).Msg("bootstrap: supabase storage")
		return nil
	}

	path := cfg.StoragePath
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	objects, err := storage.NewFileStore(path, cfg.StorageBaseURL)
	if err != nil {
		return fmt.Errorf("configure file storage: %w", err)
	}
	c.Objects = objects
	c.StaticDir = path
	logger.Info().Str("path", path).Msg("bootstrap: file storage")
	return nil
}

// buildLocker prefers Redis leases so API and worker processes exclude each
// other. Without Redis, leases only hold within this process.
func (c *Components) buildLocker(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) lease.Locker {
	client, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: redis unavailable, using in-process leases")
		return lease.NewMemoryLocker()
	}
	c.closers = append(c.closers, func() { _ = client.Close() })
	return lease.NewRedisLocker(client)
}

func buildImages(ctx context.Context, cfg *infra.Config, gemini *genai.Client, creds *credentials.Store, logger zerolog.Logger) (image.Generator, error) {
	if cfg.ImageProvider != infra.ImageProviderQwen {
		return image.NewGeminiGenerator(gemini, cfg.ImageRequestsPerMinute), nil
	}
	key := strings.TrimSpace(cfg.QwenAPIKey)
	if key == "" && creds != nil {
		stored, err := creds.QwenAPIKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("load qwen key: %w", err)
		}
		key = stored
	}
	if key == "" {
		return nil, fmt.Errorf("QWEN_API_KEY is required for the qwen image provider")
	}
	qwenLogger := infra.Component(logger, "qwen")
	client, err := qwen.NewClient(qwen.Options{
		APIKey:         key,
		BaseURL:        cfg.QwenBaseURL,
		Model:          cfg.QwenModel,
		Logger:         &qwenLogger,
		RequestTimeout: cfg.StageTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure qwen client: %w", err)
	}
	logger.Info().Str("model", client.Model()).Msg("bootstrap: qwen image provider")
	return image.NewQwenGenerator(client, cfg.ImageRequestsPerMinute), nil
}

func loadTokens(path string) (*prompt.Tokens, error) {
	if path == "" {
		return prompt.DefaultTokens(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt tokens: %w", err)
	}
	return prompt.ParseTokens(raw)
}
