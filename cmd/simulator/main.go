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
	"netguard-console/internal/logging"
	"netguard-console/internal/simulator"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	configPath string
	seed       int64
)

var rootCmd = &cobra.Command{
	Use:   "netguard-simulator",
	Short: "Simulated NetGuard IDS backend",
	Long: `netguard-simulator serves the detection backend API (alerts,
statistics, acknowledge and the /api/ws push channel) from memory and
generates a synthetic detection every interval.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interval") {
			cfg.Simulator.Interval, _ = cmd.Flags().GetDuration("interval")
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "generator seed")
	rootCmd.Flags().Duration("interval", 3*time.Second, "time between generated alerts (0 disables)")
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
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := simulator.NewServer()
	go server.Hub.Run(ctx)
	if cfg.Simulator.Interval > 0 {
		gen := simulator.NewGenerator(seed)
		go gen.Run(ctx, cfg.Simulator.Interval, func(rec simulator.AlertRecord) { server.Publish(rec) })
	}

	srv := &http.Server{
		Addr:    cfg.SimulatorAddr(),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Dur("interval", cfg.Simulator.Interval).Msg("simulator listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutting down simulator")
	case err := <-errCh:
		return fmt.Errorf("simulator server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("simulator server forced to shut down")
	}
	return nil
}
