package main

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "localhost",
		Port: 8765,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for runs and breakpoints",
	Long: `Start a local HTTP server exposing processes, runs and their journals, and
pending breakpoints under /api. Breakpoints raised in deferred mode can be approved
or rejected with POST /api/breakpoints/{id}/approve|reject while their runs wait.

Host and port default to server.host and server.port from the configuration.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		config := getServeConfigFromFlags(cmd, &ServeConfig{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port})
		return runServeCommand(cmd.Context(), a, config)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the API server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the API server to")
}

// getServeConfigFromFlags overrides base with the flags set on the command line.
func getServeConfigFromFlags(cmd *cobra.Command, base *ServeConfig) *ServeConfig {
	config := NewServeConfig()
	if base != nil {
		if base.Host != "" {
			config.Host = base.Host
		}
		if base.Port != 0 {
			config.Port = base.Port
		}
	}

	if cmd.Flags().Changed("host") {
		if host, err := cmd.Flags().GetString("host"); err == nil {
			config.Host = host
		}
	}
	if cmd.Flags().Changed("port") {
		if port, err := cmd.Flags().GetInt("port"); err == nil {
			config.Port = port
		}
	}
	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if config.Host != "localhost" && config.Host != "0.0.0.0" && net.ParseIP(config.Host) == nil {
		if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
			return fmt.Errorf("invalid host: %s", config.Host)
		}
	}
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}
	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}
	return nil
}

func runServeCommand(ctx context.Context, a *app, config *ServeConfig) error {
	if err := validateServeConfig(config); err != nil {
		return err
	}

	registry, err := a.processes()
	if err != nil {
		return err
	}
	store, err := a.runStore(ctx)
	if err != nil {
		return err
	}

	srv, err := server.New(&server.Config{Host: config.Host, Port: config.Port}, registry, store)
	if err != nil {
		return err
	}

	logger.G(ctx).WithField("host", config.Host).WithField("port", config.Port).Info("starting API server")
	presenter.Info("Press Ctrl+C to stop the server")
	if err := srv.Start(ctx); err != nil {
		return err
	}
	presenter.Info("API server stopped")
	return nil
}
