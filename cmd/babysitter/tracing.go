package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/telemetry"
)

// initTracing initializes the OpenTelemetry tracing system
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	return telemetry.InitTracer(ctx, telemetry.FromConfig(config.TracingConfig{
		Enabled:      viper.GetBool("tracing.enabled"),
		SamplerType:  viper.GetString("tracing.sampler"),
		SamplerRatio: viper.GetFloat64("tracing.ratio"),
	}))
}

// flushTracing exports buffered spans. It runs after the command returns,
// whether or not it failed, so failed and waiting runs are traced too.
func flushTracing(ctx context.Context) {
	if tracingShutdown == nil {
		return
	}
	shutdown := tracingShutdown
	tracingShutdown = nil
	if err := shutdown(context.WithoutCancel(ctx)); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to flush traces")
	}
}

// execute runs cmd and flushes traces before returning its error.
func execute(ctx context.Context, cmd *cobra.Command) error {
	defer flushTracing(ctx)
	return cmd.ExecuteContext(ctx)
}

// withTracing wraps a Cobra command with tracing
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRunE := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		})

		ctx, span := telemetry.Tracer("babysitter.cli").Start(cmd.Context(), "cli.command", trace.WithAttributes(attrs...))
		defer span.End()
		cmd.SetContext(ctx)

		err := originalRunE(cmd, args)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}

	return cmd
}
