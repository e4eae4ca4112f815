package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/config"
	"essay-proxy/api/internal/handle"
	"essay-proxy/api/internal/logging"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/store"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/telegram"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "8080"
	}
	token := config.MustEnv("TELEGRAM_BOT_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt, err := review.LoadPrompt(cfg.PromptFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load prompt")
	}
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

	// --- Postgres (кэш разборов, опционально) ---
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open")
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		repo := store.NewReviewRepo(db)
		if err := db.PingContext(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("db.Ping")
		}
		if err := repo.EnsureSchema(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		cancel()
		log.Info().Str("db", safeDSNSummary(cfg.DatabaseURL)).Msg("db connected")
		opts.Cache = repo
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram bot")
	}
	bot.Debug = false

	defaultKind := stream.KindGemini
	if cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey != "" {
		defaultKind = stream.KindOpenAI
	}
	r := &telegram.Router{
		Bot:         bot,
		Reviewer:    review.New(opts, handle.NewUpstreamClient(cfg.UpstreamHeaderTimeout)),
		Default:     defaultKind,
		GeminiModel: cfg.GeminiModel,
		OpenAIModel: cfg.OpenAIModel,
		EditEvery:   1500 * time.Millisecond,
	}

	// --- HTTP mux (DefaultServeMux) ---
	// ListenForWebhook регистрирует обработчик на default mux, поэтому healthz туда же.
	http.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			pctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(pctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := "0.0.0.0:" + cfg.Port
	log.Info().Str("bot", bot.Self.UserName).Str("default_backend", string(defaultKind)).Msg("essay bot starting")

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, addr, bot, r, webhookURL)
	} else {
		startPollingMode(ctx, addr, bot, r)
	}
}

// ---------------- Modes -----------------

func startWebhookMode(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string) {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Fatal().Err(err).Msg("webhook")
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal().Err(err).Msg("set webhook")
	}

	updates := bot.ListenForWebhook(path)
	go func() {
		for upd := range updates {
			go r.HandleUpdate(ctx, upd)
		}
		log.Info().Msg("webhook updates channel closed")
	}()

	log.Info().Str("addr", addr).Str("path", path).Msg("webhook listening")
	serve(ctx, addr)
}

func startPollingMode(ctx context.Context, addr string, bot *tgbotapi.BotAPI, r *telegram.Router) {
	// HTTP нужен только для healthz
	go serve(ctx, addr)

	runPolling(ctx, bot, func(upd tgbotapi.Update) {
		go r.HandleUpdate(ctx, upd)
	})
}

func serve(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second} // DefaultServeMux
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Info().Str("addr", addr).Msg("health server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

// runPolling: устойчивый поллинг с backoff, без log.Fatal/os.Exit.
func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, onUpdate func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			log.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			onUpdate(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// лёгкий FNV-хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return fmt.Sprintf("%016x", h)
}

func safeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, u.User.Username())
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, u.User.Username())
}
