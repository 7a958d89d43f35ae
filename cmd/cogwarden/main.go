package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cogwarden/internal/bot"
	"cogwarden/internal/config"
	"cogwarden/internal/metrics"
	"cogwarden/internal/modules/audit"
	"cogwarden/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:          "cogwarden",
	Short:        "Discord moderation bot",
	Long:         "Discord moderation bot. Without a subcommand it behaves like run.",
	SilenceUsage: true,
}

func init() {
	rootCmd.RunE = runBot
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config path (default: $CONFIG_PATH or config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands",
		RunE:  runBot,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return store, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	store.Close()
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("storage unavailable", zap.Error(err))
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var recorder metrics.Recorder = metrics.Noop{}
	if cfg.Health.Metrics {
		recorder = metrics.New(registry)
	}

	auditLogger := audit.NewLogger(store, logger.Named("audit"))
	botSvc, err := bot.New(cfg, logger, store, auditLogger, recorder)
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return botSvc.Run(gctx)
	})

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if cfg.Health.Metrics {
			mux.Handle("/metrics", metrics.Handler(registry))
		}
		server := &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("bot starting")
	err = g.Wait()
	logger.Info("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped with error", zap.Error(err))
		return err
	}
	return nil
}
