package telemetry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/a5c-ai/babysitter/pkg/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.TracingConfig{Enabled: true, SamplerType: "ratio", SamplerRatio: 0.5})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, "ratio", cfg.SamplerType)
	assert.Equal(t, 0.5, cfg.SamplerRatio)
}

func TestGetSampler(t *testing.T) {
	assert.Contains(t, getSampler(Config{SamplerType: "never"}).Description(), "AlwaysOff")
	assert.Contains(t, getSampler(Config{SamplerType: "always"}).Description(), "AlwaysOn")
	assert.Contains(t, getSampler(Config{}).Description(), "AlwaysOn")
	assert.Contains(t, getSampler(Config{SamplerType: "ratio", SamplerRatio: 0.25}).Description(), "TraceIDRatioBased")
}

func TestWithSpan(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := install(ctx, Config{Enabled: true}, recorder)
	require.NoError(t, err)
	defer shutdown(ctx)

	require.NoError(t, WithSpan(ctx, "ok", func(context.Context) error { return nil }, attribute.String("phase.name", "plan")))
	err = WithSpan(ctx, "failing", func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("phase.name", "plan"))
	assert.Equal(t, "failing", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := install(ctx, Config{Enabled: true}, recorder)
	require.NoError(t, err)
	defer shutdown(ctx)

	AddEvent(ctx, "outside any span")
	require.NoError(t, WithSpan(ctx, "run", func(ctx context.Context) error {
		AddEvent(ctx, "effect.replayed", attribute.Int("effect.seq", 1))
		return nil
	}))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "effect.replayed", spans[0].Events()[0].Name)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.Int("effect.seq", 1))
}
