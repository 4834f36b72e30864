package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentlink/agentlink/internal/api"
	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/config"
	"github.com/agentlink/agentlink/internal/crypto"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/ledger/pgstore"
	"github.com/agentlink/agentlink/internal/metrics"
	"github.com/agentlink/agentlink/internal/mirror"
	"github.com/agentlink/agentlink/internal/notify"
	"github.com/agentlink/agentlink/internal/ratelimit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Agentlink server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	cipher, err := crypto.NewCipher(cfg.Auth.SecretsKey)
	if err != nil {
		return err
	}
	if cipher == nil {
		slog.Warn("secrets key not set, webhook secrets stored unencrypted")
	}

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	deps := api.RouterDeps{
		Limiter:        limiter,
		Metrics:        m,
		Cipher:         cipher,
		AdminKeyHash:   cfg.Auth.AdminKeyHash,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}

	var dispatcher *notify.Dispatcher

	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return err
		}
		slog.Info("connected to database")

		store := pgstore.New(pool)
		profiles := mirror.NewProfileStore(pool)

		deps.Engine = ledger.NewEngine(store)
		deps.Jobs = mirror.NewJobStore(pool)
		deps.Profiles = profiles
		deps.Applications = mirror.NewApplicationStore(pool)
		deps.Reviews = mirror.NewReviewStore(pool)
		deps.Auth = auth.NewService(mirror.NewAuthAdapter(profiles))
		deps.DBPing = pool.Ping

		m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
			stat := pool.Stat()
			return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
		})

		dispatcher = notify.NewDispatcher(store, notify.NewMirrorResolver(profiles, cipher), notify.Options{
			PollInterval: cfg.Dispatcher.PollInterval,
			BatchSize:    cfg.Dispatcher.BatchSize,
			MaxAttempts:  cfg.Dispatcher.MaxAttempts,
			BaseBackoff:  cfg.Dispatcher.BaseBackoff,
			Timeout:      cfg.Dispatcher.Timeout,
			Observer:     m,
		})
		go dispatcher.Start(ctx)

	case "memory":
		// Single-node development mode: ledger only, no marketplace
		// mirror and no webhook delivery.
		slog.Warn("memory backend selected, marketplace and webhook routes disabled")
		deps.Engine = ledger.NewEngine(ledger.NewMemStore())
	}

	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "backend", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if dispatcher != nil {
		dispatcher.Stop()
	}

	return srv.Shutdown(shutdownCtx)
}
