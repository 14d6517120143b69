package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/connector/whatsapp"
	httpapi "github.com/nextlevelbuilder/walink/internal/http"
	"github.com/nextlevelbuilder/walink/internal/inbound"
	"github.com/nextlevelbuilder/walink/internal/linking"
	"github.com/nextlevelbuilder/walink/internal/logging"
	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/sessions"
	"github.com/nextlevelbuilder/walink/internal/store"
	"github.com/nextlevelbuilder/walink/internal/store/file"
	"github.com/nextlevelbuilder/walink/internal/store/pg"
	"github.com/nextlevelbuilder/walink/internal/store/redis"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and tenant connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()
	if verbose {
		logger.SetLevel("debug")
	}
	slog.SetDefault(logger.Logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := initOTelExporter(ctx, cfg)

	snapshots, closeSnapshots, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	codes := pairing.NewService(ctx, snapshots, pairing.Options{
		TTL:        cfg.Pairing.TTL(),
		CodeLength: cfg.Pairing.CodeLength,
		SingleUse:  cfg.Pairing.SingleUse,
	})

	dirs := file.NewSessionDirs(cfg.Storage.SessionsDir)
	wa := whatsapp.New(whatsapp.Config{
		Dirs:   dirs,
		Logger: logger.Logger,
	})

	router := inbound.NewRouter(inbound.Config{
		Notifier: inbound.NewWebhookDispatcher(cfg.Webhook.Timeout(), cfg.Webhook.UserAgent),
		Commands: inbound.NewCommands(cfg.Commands.Prefix, cfg.Commands.Enabled),
		Dedupe:   inbound.NewDedupeCache(cfg.Webhook.DedupeTTL(), cfg.Webhook.DedupeSize),
	})
	registry := sessions.NewRegistry(sessions.Config{
		Connector: wa,
		Router:    router,
		Meta:      dirs,
	})
	linker := linking.NewController(linking.Config{
		Issuer:    codes,
		Connector: wa,
		Adopter:   registry,
		Dirs:      dirs,
		Timeout:   cfg.Linking.Timeout(),
		Linger:    cfg.Linking.Linger(),
		QRSize:    cfg.Linking.QRSize,
	})

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	defer limiter.Stop()

	api := httpapi.NewServer(httpapi.Config{
		Token:          cfg.Server.Token,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Limiter:        limiter,
	}, linker, codes, registry, dirs)
	if cfg.Server.Token == "" {
		slog.Warn("security.no_token", "hint", "server.token is empty; /api is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("walink listening", "addr", srv.Addr, "sessions_dir", cfg.Storage.SessionsDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		codes.RunSweeper(gctx, cfg.Pairing.SweepInterval())
		return nil
	})
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		watcher, err := config.NewWatcher(cfgPath)
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			watcher.OnChange(func(next *config.Config) {
				applyReload(next, logger, limiter, api)
			})
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	linker.Close()
	registry.Close()
	router.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownOTel(flushCtx); err != nil {
		slog.Warn("otel shutdown", "error", err)
	}

	slog.Info("walink stopped")
	return runErr
}

// openSnapshotStore selects Postgres or Redis when configured, else the
// JSON file.
func openSnapshotStore(ctx context.Context, cfg *config.Config) (store.SnapshotStore, func(), error) {
	switch {
	case cfg.Storage.PostgresDSN != "":
		ps, err := pg.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("pairing snapshot: %w", err)
		}
		slog.Info("pairing snapshot: postgres", "table", pg.DefaultTable)
		return ps, func() { ps.Close() }, nil

	case cfg.Storage.RedisURL != "":
		rs, err := redis.New(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisKey)
		if err != nil {
			return nil, nil, fmt.Errorf("pairing snapshot: %w", err)
		}
		slog.Info("pairing snapshot: redis", "key", cfg.Storage.RedisKey)
		return rs, func() { rs.Close() }, nil

	default:
		path := cfg.PairingsFile()
		slog.Info("pairing snapshot: file", "path", path)
		return file.NewSnapshotFile(path), func() {}, nil
	}
}

// applyReload re-applies the settings that can change without a restart.
func applyReload(next *config.Config, logger *logging.Logger, limiter *httpapi.RateLimiter, api *httpapi.Server) {
	if !verbose {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			slog.Warn("config reload: log level", "error", err)
		}
	}
	limiter.SetLimits(next.RateLimit.RequestsPerMinute, next.RateLimit.Burst)
	api.SetToken(next.Server.Token)
	slog.Info("config reload applied",
		"log_level", next.Log.Level,
		"rate_limit_rpm", next.RateLimit.RequestsPerMinute,
	)
}
