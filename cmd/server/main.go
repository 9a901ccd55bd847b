package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/config"
	"github.com/soaringjerry/Pulse/internal/db"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/notify"
	"github.com/soaringjerry/Pulse/internal/services"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	engine, err := services.NewEngine(policy)
	if err != nil {
		return err
	}

	store, closeStore, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Warn("close store", "err", cerr)
		}
	}()

	var dispatcher services.Dispatcher
	if cfg.WebhookURL != "" {
		dispatcher = notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret)
	}
	limiter := middleware.NewIPRateLimiter(cfg.PublicRPS, cfg.PublicBurst)
	router := api.NewRouter(api.Deps{
		Store:      store,
		Engine:     engine,
		Logger:     logger,
		Limiter:    limiter,
		Location:   cfg.Location,
		Dispatcher: dispatcher,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(router, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go sweepLimiter(ctx, limiter, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pulse server listening", "addr", cfg.Addr, "driver", cfg.DBDriver, "timezone", cfg.Location.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHandler mounts the API next to /version and an optional static
// dashboard and wraps everything in the shared middleware.
func newHandler(router *api.Router, cfg config.Config) http.Handler {
	mux := http.NewServeMux()
	router.Register(mux)
	commit := os.Getenv("PULSE_COMMIT")
	buildTime := os.Getenv("PULSE_BUILD_TIME")
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":       "Pulse",
			"commit":     commit,
			"build_time": buildTime,
		})
	})
	if staticDir := os.Getenv("PULSE_STATIC_DIR"); staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return middleware.Chain(mux,
		middleware.CORS(cfg.CORSOrigins),
		middleware.SecureHeaders,
		middleware.WithAuth,
		middleware.LocaleMiddleware,
	)
}

func sweepLimiter(ctx context.Context, limiter *middleware.IPRateLimiter, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(); n > 0 {
				logger.Debug("rate limiter swept", "visitors", n)
			}
		}
	}
}
