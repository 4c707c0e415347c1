package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/orchestrator"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/version"
)

var (
	cfgFile         string
	tracingShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "babysitter",
	Short: "Run agent-driven processes with approval breakpoints",
	Long: `babysitter executes declarative processes: ordered phases that dispatch tasks to
LLM-backed agents or shell commands, validate the JSON each task returns, collect
artifacts, and pause at breakpoints for human approval. Every effect is journaled
so waiting or failed runs can be resumed.`,
	Version:       version.Get().Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Init(viper.GetViper(), cfgFile); err != nil {
			return err
		}

		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			return err
		}
		logger.SetLogFormat(viper.GetString("log_format"))

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialise tracing")
			return nil
		}
		tracingShutdown = shutdown
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.babysitter/config.yaml or ./config.yaml)")
	flags.String("log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("provider", "", "LLM provider (anthropic, openai, google)")
	flags.String("model", "", "LLM model (overrides config)")
	flags.Int("max-tokens", 0, "maximum output tokens per agent task (overrides config)")
	flags.String("base-path", "", "state directory (default ~/.babysitter)")
	flags.StringSlice("process-dir", nil, "process definition directories, highest precedence first")
	flags.StringSlice("skill-dir", nil, "skill directories, highest precedence first")
	flags.StringSlice("agent-dir", nil, "agent directories, highest precedence first")

	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("model", flags.Lookup("model"))
	_ = viper.BindPFlag("max_tokens", flags.Lookup("max-tokens"))
	_ = viper.BindPFlag("base_path", flags.Lookup("base-path"))
	_ = viper.BindPFlag("process_dirs", flags.Lookup("process-dir"))
	_ = viper.BindPFlag("skill_dirs", flags.Lookup("skill-dir"))
	_ = viper.BindPFlag("agent_dirs", flags.Lookup("agent-dir"))

	rootCmd.AddCommand(
		withTracing(runCmd),
		withTracing(resumeCmd),
		runsCmd,
		breakpointCmd,
		processCmd,
		skillCmd,
		agentCmd,
		catalogCmd,
		serveCmd,
		mcpCmd,
		versionCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, rootCmd); err != nil {
		if !errors.Is(err, orchestrator.ErrRunWaiting) {
			presenter.Error(err, "babysitter")
		}
		stop()
		os.Exit(exitCode(err))
	}
}
