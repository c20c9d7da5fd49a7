package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/gavel/internal/adapters/http/api"
	"github.com/okian/gavel/internal/adapters/ws"
	"github.com/okian/gavel/internal/app"
	"github.com/okian/gavel/internal/config"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/domain/scoring"
	"github.com/okian/gavel/internal/judgment"
	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			os.Stderr.WriteString("failed to flush logs: " + err.Error() + "\n")
		}
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	limits := make(map[phase.Phase]time.Duration, len(cfg.PhaseLimitsS))
	for name, secs := range cfg.PhaseLimitsS {
		limits[phase.Phase(name)] = time.Duration(secs) * time.Second
	}

	engineOpts := []scoring.Option{scoring.WithComboWindow(cfg.ComboWindow())}
	if len(cfg.BasePoints) > 0 {
		engineOpts = append(engineOpts, scoring.WithBasePoints(cfg.BasePoints))
	}
	if len(cfg.ComboSteps) > 0 {
		engineOpts = append(engineOpts, scoring.WithComboSteps(cfg.ComboSteps))
	}

	opts := []app.Option{
		app.WithPhaseLimits(limits),
		app.WithJudgmentQueueSize(cfg.JudgmentQueueSize),
		app.WithSessionOptions(
			session.WithBusOptions(session.WithSubscriberBuffer(cfg.SubscriberBuffer)),
			session.WithScoringOptions(engineOpts...),
		),
	}
	if cfg.JudgmentURL != "" {
		opts = append(opts, app.WithJury(
			judgment.NewHTTPService(cfg.JudgmentURL, judgment.WithTimeout(cfg.JudgmentTimeout()))))
	}

	svc := app.New(opts...)
	svc.Start(ctx)

	mux := http.NewServeMux()
	api.NewServer(svc).Register(mux)
	mux.Handle("GET /ws", ws.NewHandler(svc.Registry()))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "listening", logger.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "dispatcher shutdown", logger.Error(err))
	}
	svc.Registry().Shutdown()
}
