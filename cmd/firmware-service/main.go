package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "fwupdate/cmd/firmware-service/docs"
	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/logging"
)

var (
	configFile string
)

// @title           Firmware Update Service API
// @version         1.0
// @description     Decides and requests Notecard and host firmware updates for Notehub devices, and manages the update rules

// @BasePath  /api/v1

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        x-api-key

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:          "firmware-service",
		Short:        "Firmware update service for Notehub fleets",
		Long:         "Matches device check-ins against firmware rules and requests Notecard and host updates through Notehub",
		SilenceUsage: true,
		RunE:         serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults to CONFIG_FILE, then environment only)")

	rootCmd.AddCommand(serveCmd(), checkCmd(), validateRulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file when one is given, otherwise the
// environment alone.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	return config.Load(configFile)
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.NewForService(cfg.Logging.Level, cfg.Logging.Format, constants.ServiceName)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			cfg, err := loadConfig()
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := newLogger(cfg)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Firmware Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
