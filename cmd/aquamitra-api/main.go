package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/aquamitra/aquamitra/internal/api"
	"github.com/aquamitra/aquamitra/internal/api/uistatic"
	"github.com/aquamitra/aquamitra/internal/auth"
	"github.com/aquamitra/aquamitra/internal/chatlog"
	chatlogpostgres "github.com/aquamitra/aquamitra/internal/chatlog/postgres"
	"github.com/aquamitra/aquamitra/internal/config"
	"github.com/aquamitra/aquamitra/internal/gateway"
	"github.com/aquamitra/aquamitra/internal/glossary"
	"github.com/aquamitra/aquamitra/internal/llm"
	"github.com/aquamitra/aquamitra/internal/nl2sql"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/router"
	"github.com/aquamitra/aquamitra/internal/storage"
	s3store "github.com/aquamitra/aquamitra/internal/storage/s3"
	"github.com/aquamitra/aquamitra/internal/translate"
	"github.com/aquamitra/aquamitra/internal/warehouse"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("aquamitra-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := sql.Open("duckdb", cfg.Data.DatabasePath)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	var corpusStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		corpusStore, err = s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return fmt.Errorf("initialize object store: %w", err)
		}
	}

	wh, err := warehouse.New(db, warehouse.Options{
		Dir:      cfg.Data.CorpusDir,
		Pattern:  cfg.Data.CorpusPattern,
		Table:    cfg.Data.Table,
		RowLimit: cfg.Data.RowLimit,
		Store:    corpusStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if cfg.Data.ProvisionOnStart {
		// An empty or unreadable corpus stops startup before the port opens.
		if err := wh.EnsureReady(ctx); err != nil {
			return fmt.Errorf("provision assessments: %w", err)
		}
	}

	models := llm.NewManager(cfg.LLM.Timeout)
	defer func() { _ = models.Close() }()
	completer, err := registerCompleter(ctx, models, cfg.LLM)
	if err != nil {
		return err
	}
	embedder, err := registerEmbedder(ctx, models, cfg.LLM)
	if err != nil {
		return err
	}

	docs, err := glossary.DefaultCorpus()
	if err != nil {
		return err
	}
	index, err := glossary.NewIndex(ctx, embedder, docs)
	if err != nil {
		return fmt.Errorf("build glossary index: %w", err)
	}
	glossaryTool := glossary.NewTool(index, completer, cfg.Glossary.TopK, cfg.Glossary.MinScore)
	sqlTool := nl2sql.NewTool(nl2sql.NewLLMTranslator(completer), wh, wh, completer, cfg.Data.RowLimit, logger)
	sqlTool.Parser = wh

	var selector router.Selector = router.KeywordSelector{}
	if cfg.Router.Selector == config.SelectorLLM {
		selector = router.NewLLMSelector(completer, nil, logger)
	}
	questionRouter, err := router.New(selector, logger, sqlTool, glossaryTool)
	if err != nil {
		return err
	}

	var translator gateway.Translator
	if cfg.Translation.Enabled {
		opts := []translate.Option{translate.WithLogger(logger)}
		if cfg.Redis.Addr != "" {
			cache := translate.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			defer func() { _ = cache.Close() }()
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := cache.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warn("translation cache unavailable, continuing without it", slog.Any("error", err))
			} else {
				opts = append(opts, translate.WithCache(cache, cfg.Translation.CacheTTL))
			}
		}
		translator = translate.NewService(completer, cfg.Translation.MinInterval, opts...)
	}

	transcripts, closeLog, err := openChatLog(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeLog()

	deps := api.Dependencies{
		Logger:             logger,
		Chat:               gateway.NewService(questionRouter, translator, transcripts, logger),
		Warehouse:          wh,
		ReprovisionTimeout: 5 * time.Minute,
		UI:                 uistatic.Handler(),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator, auth.RoleAdmin)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", cfg.LLM.Provider),
			slog.String("router", cfg.Router.Selector),
			slog.Bool("translation", cfg.Translation.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func registerCompleter(ctx context.Context, models *llm.Manager, cfg config.LLMConfig) (llm.Completer, error) {
	err := models.Register(ctx, "chat", llm.Config{
		Provider:        cfg.Provider,
		APIKey:          cfg.Key(cfg.Provider),
		Model:           cfg.Model,
		BaseURL:         cfg.OpenAIBaseURL,
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return models.Completer("chat")
}

func registerEmbedder(ctx context.Context, models *llm.Manager, cfg config.LLMConfig) (llm.Embedder, error) {
	if cfg.EmbeddingProvider == config.ProviderLocal {
		return glossary.NewHashEmbedder(0), nil
	}
	err := models.Register(ctx, "embedding", llm.Config{
		Provider:       cfg.EmbeddingProvider,
		APIKey:         cfg.Key(cfg.EmbeddingProvider),
		Model:          config.DefaultModel(cfg.EmbeddingProvider),
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, err
	}
	return models.Embedder("embedding")
}

func openChatLog(ctx context.Context, cfg config.Config, duck *sql.DB) (chatlog.Repository, func(), error) {
	switch cfg.ChatLog.Backend {
	case config.ChatLogBackendPostgres:
		db, err := chatlogpostgres.Open(ctx, cfg.ChatLog)
		if err != nil {
			return nil, nil, fmt.Errorf("open chat log db: %w", err)
		}
		return chatlog.NewSQLRepository(db), func() { _ = db.Close() }, nil
	default:
		if err := chatlog.EnsureDuckDBSchema(ctx, duck); err != nil {
			return nil, nil, err
		}
		return chatlog.NewSQLRepository(duck), func() {}, nil
	}
}
