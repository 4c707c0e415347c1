package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/tasks"
)

func TestWarnArgsDrift(t *testing.T) {
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableQuote: true})
	ctx := logger.WithLogger(context.Background(), logrus.NewEntry(log))

	c := &Context{data: tasks.Data{
		Inputs:  map[string]any{"feature": "csv export"},
		Results: map[string]any{},
	}}
	args := map[string]any{"feature": "{{ .Inputs.feature }}"}
	entry := &runs.JournalEntry{Seq: 1, Name: "specification", Payload: json.RawMessage(`{"feature":"csv export"}`)}

	c.warnArgsDrift(ctx, entry, args)
	assert.Empty(t, out.String())

	entry.Payload = json.RawMessage(`{"feature":"pdf export"}`)
	c.warnArgsDrift(ctx, entry, args)
	assert.Contains(t, out.String(), "task arguments changed")
	assert.Contains(t, out.String(), `-  "feature": "pdf export"`)
	assert.Contains(t, out.String(), `+  "feature": "csv export"`)

	out.Reset()
	entry.Payload = nil
	c.warnArgsDrift(ctx, entry, args)
	assert.Empty(t, out.String())
}

func TestReplayRecordsSpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := &Context{
		journal: map[int]*runs.JournalEntry{
			1: {Seq: 1, Kind: runs.KindTask, Name: "specification", Status: runs.EntryOK,
				Payload: json.RawMessage(`{"feature":"pdf export"}`),
				Result:  json.RawMessage(`{"stories":["a"],"artifacts":[{"path":"spec.md"}]}`)},
			2: {Seq: 2, Kind: runs.KindBreakpoint, Name: "review", Status: runs.EntryApproved},
		},
		data: tasks.Data{Inputs: map[string]any{"feature": "csv export"}, Results: map[string]any{}},
	}

	ctx, span := tp.Tracer("test").Start(context.Background(), "orchestrator.run")
	result, err := c.Task(ctx, "specification", "specify",
		&tasks.Definition{Agent: &tasks.AgentSpec{Task: "specify"}},
		map[string]any{"feature": "{{ .Inputs.feature }}"})
	require.NoError(t, err)
	require.NoError(t, c.Breakpoint(ctx, "review", process.BreakpointSpec{Question: "ok?"}))
	span.End()

	assert.Equal(t, []any{"a"}, result["stories"])
	assert.Len(t, c.Artifacts(), 1)
	assert.Equal(t, 2, c.replayed)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 3)
	assert.Equal(t, "effect.args_changed", events[0].Name)
	assert.Equal(t, "effect.replayed", events[1].Name)
	assert.Contains(t, events[1].Attributes, attribute.String("effect.kind", string(runs.KindTask)))
	assert.Equal(t, "effect.replayed", events[2].Name)
	assert.Contains(t, events[2].Attributes, attribute.Int("effect.seq", 2))
}
