package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scopedeck/scopedeck/internal/config"
	"github.com/scopedeck/scopedeck/internal/health"
	"github.com/scopedeck/scopedeck/internal/intake"
	"github.com/scopedeck/scopedeck/internal/llm"
	"github.com/scopedeck/scopedeck/internal/metrics"
	"github.com/scopedeck/scopedeck/internal/server"
	"github.com/scopedeck/scopedeck/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Bool("llm_configured", cfg.LLMEnabled()).
		Int("min_questions", cfg.MinQuestions).
		Msg("starting scopedeck")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Storage
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	// Completion client. The service starts without credentials; intake
	// operations fail with a configuration error until they are set.
	completer := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey,
		llm.WithModel(cfg.LLMModel),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithLogger(logger),
	)
	if !cfg.LLMEnabled() {
		logger.Warn().Msg("completion endpoint not configured — intake calls will fail until LLM_BASE_URL and LLM_API_KEY are set")
	}

	// Metrics
	metricsCollector := metrics.New()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := st.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("llm", func(ctx context.Context) health.Status {
		if !cfg.LLMEnabled() {
			return health.StatusDegraded
		}
		return health.StatusOK
	})

	// Dialogue policy, with optional prompt overrides from YAML
	policyOpts := []intake.PolicyOption{
		intake.WithMinQuestions(cfg.MinQuestions),
		intake.WithLogger(logger),
		intake.WithMetrics(metricsCollector),
	}
	if cfg.PromptsPath != "" {
		prompts, perr := config.LoadPrompts(cfg.PromptsPath)
		if perr != nil {
			logger.Fatal().Err(perr).Str("path", cfg.PromptsPath).Msg("failed to load prompt overrides")
		}
		framings := make(map[intake.IntentTag]string, len(prompts.Framings))
		for tag, text := range prompts.Framings {
			framings[intake.IntentTag(tag)] = text
		}
		policyOpts = append(policyOpts, intake.WithPrompts(prompts.SystemPrompt, framings))
		logger.Info().Str("path", cfg.PromptsPath).Msg("prompt overrides loaded")
	}
	policy := intake.NewPolicy(completer, policyOpts...)

	// HTTP API
	handlers := server.NewHandlers(st, policy, checker, metricsCollector, logger)
	srv := server.NewServer(server.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: server.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, metricsCollector, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Session retention loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.RetentionPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := st.RunRetention(ctx, cfg.SessionMaxIdle); err != nil {
					logger.Error().Err(err).Msg("session retention failed")
				}
			}
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("scopedeck stopped")
}
