package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"edurelay/internal/app"
	"edurelay/internal/config"
	"edurelay/internal/logger"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	configPath string
	port       int
	mode       string
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:           "edurelay",
		Short:         "Classroom room presence and WebRTC signaling relay",
		Long:          "edurelay keeps track of who is in which classroom room and relays WebRTC signaling, chat and screen-share notices between their browser channels.",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}
	bindServeFlags(root, opts)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}
	bindServeFlags(serveCmd, opts)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "edurelay", Version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	return root
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml); defaults to $"+config.ConfigFileEnv)
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "HTTP port, overrides the config file")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "run mode: production or development")
}

// loadConfig applies command line overrides on top of the loaded config.
func loadConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = opts.port
	}
	if cmd.Flags().Changed("mode") {
		cfg.Mode = opts.mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-application.Errors():
		if ok && err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
