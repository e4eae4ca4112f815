package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/config"
	"essay-proxy/api/internal/handle"
	"essay-proxy/api/internal/httpserver"
	"essay-proxy/api/internal/logging"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "8000"
	}

	prompt, err := review.LoadPrompt(cfg.PromptFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load prompt")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := review.Options{
		GeminiBaseURL:   cfg.GeminiBaseURL,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GeminiModel:     cfg.GeminiModel,
		GeminiTransport: cfg.GeminiTransport,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		Prompt:          prompt,
		CacheTTL:        cfg.CacheTTL,
	}

	// --- Postgres (optional cache) ---
	var health handle.Pinger
	if cfg.DatabaseURL != "" {
		repo, err := openCache(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("review cache")
		}
		defer repo.DB.Close()
		opts.Cache = repo
		health = repo
		go purgeLoop(ctx, repo, cfg.CacheTTL)
	}

	httpc := handle.NewUpstreamClient(cfg.UpstreamHeaderTimeout)
	svc := review.New(opts, httpc)
	h := handle.New(cfg, httpc, svc, health)

	log.Info().
		Str("gemini_base", cfg.GeminiBaseURL).
		Str("openai_base", cfg.OpenAIBaseURL).
		Bool("gemini_key", cfg.GeminiAPIKey != "").
		Str("gemini_transport", cfg.GeminiTransport).
		Bool("cache", opts.Cache != nil).
		Msg("essay-proxy starting")

	if err := httpserver.Run(ctx, ":"+cfg.Port, httpserver.New(h)); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

func openCache(ctx context.Context, dsn string) (*store.ReviewRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo := store.NewReviewRepo(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Msg("review cache connected")
	return repo, nil
}

// purgeLoop раз в час чистит записи старше TTL.
func purgeLoop(ctx context.Context, repo *store.ReviewRepo, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeOlderThan(ctx, ttl)
			if err != nil {
				log.Warn().Err(err).Msg("purge review cache")
				continue
			}
			if n > 0 {
				log.Info().Int64("rows", n).Msg("review cache purged")
			}
		}
	}
}
