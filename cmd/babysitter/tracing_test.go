package main

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a5c-ai/babysitter/pkg/orchestrator"
)

func TestExecuteFlushesTraces(t *testing.T) {
	tests := []struct {
		name    string
		runErr  error
		wantErr string
	}{
		{name: "successful command"},
		{name: "failed command", runErr: errors.New("run failed"), wantErr: "run failed"},
		{name: "waiting run", runErr: errors.Wrap(orchestrator.ErrRunWaiting, "run r1"), wantErr: "run r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flushed := 0
			tracingShutdown = func(ctx context.Context) error {
				flushed++
				return ctx.Err()
			}
			t.Cleanup(func() { tracingShutdown = nil })

			root := &cobra.Command{Use: "babysitter", SilenceErrors: true, SilenceUsage: true}
			child := withTracing(&cobra.Command{
				Use:  "run",
				RunE: func(*cobra.Command, []string) error { return tt.runErr },
			})
			root.AddCommand(child)
			root.SetArgs([]string{"run"})

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := execute(ctx, root)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, flushed)
			assert.Nil(t, tracingShutdown)
		})
	}
}

func TestFlushTracingWithoutTracer(t *testing.T) {
	tracingShutdown = nil
	assert.NotPanics(t, func() { flushTracing(context.Background()) })
}
