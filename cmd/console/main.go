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

	"netguard-console/internal/config"
	"netguard-console/internal/handlers"
	"netguard-console/internal/logging"
	"netguard-console/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "netguard-console",
	Short: "Live NetGuard IDS monitoring console",
	Long: `netguard-console keeps an in-memory view of the detection backend:
the alert list, the 24h statistics and the push channel state. It serves
that view over a small REST API and a browser WebSocket.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend := services.NewBackendClient(cfg)
	probeCtx, probeCancel := context.WithTimeout(ctx, cfg.Backend.Timeout)
	if err := backend.HealthCheck(probeCtx); err != nil {
		logging.Warn().Err(err).Str("backend", cfg.Backend.BaseURL).Msg("detection backend not reachable yet, starting anyway")
	}
	probeCancel()
	coordinator := services.NewSyncCoordinator(cfg, backend)

	wsHandler := handlers.NewWebSocketHandler(func() (*handlers.Snapshot, error) {
		alerts, err := coordinator.Alerts()
		if err != nil {
			return nil, err
		}
		state, err := coordinator.ConnectionState()
		if err != nil {
			return nil, err
		}
		snap := &handlers.Snapshot{Alerts: alerts, ConnectionState: state}
		if stats, ok, err := coordinator.Statistics(); err == nil && ok {
			snap.Statistics = &stats
		}
		return snap, nil
	})
	coordinator.Subscribe(wsHandler)
	go wsHandler.Run(ctx)

	if err := coordinator.Start(); err != nil {
		return err
	}
	defer coordinator.Close()

	router := handlers.NewRouter(handlers.NewConsoleHandler(coordinator), wsHandler)
	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("backend", cfg.Backend.BaseURL).Msg("console listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down console")
	case err := <-errCh:
		return fmt.Errorf("console server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("console server forced to shut down")
	}
	return nil
}
