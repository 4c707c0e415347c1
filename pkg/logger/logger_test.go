package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger := newLogger()

	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger(t *testing.T) {
	t.Run("falls back to global logger", func(t *testing.T) {
		entry := G(context.Background())
		assert.Equal(t, L.Logger, entry.Logger)
	})

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck
		assert.Equal(t, L, G(nil))
	})

	t.Run("returns attached logger", func(t *testing.T) {
		custom := logrus.NewEntry(logrus.New()).WithField("test", "value")
		ctx := WithLogger(context.Background(), custom)
		assert.Equal(t, "value", G(ctx).Data["test"])
	})
}

func TestWithFields(t *testing.T) {
	ctx := WithFields(context.Background(), logrus.Fields{"run_id": "r1"})
	ctx = WithFields(ctx, logrus.Fields{"phase": "design"})

	entry := G(ctx)
	assert.Equal(t, "r1", entry.Data["run_id"])
	assert.Equal(t, "design", entry.Data["phase"])
}

func TestSetLogFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	setLoggerFormat(l, "json")
	l.WithField("process", "demo").Info("started")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "started", decoded["message"])
	assert.Equal(t, "info", decoded["logLevel"])
	assert.Equal(t, "demo", decoded["process"])
	assert.Contains(t, decoded, "timestamp")
}

func TestSetLogLevel(t *testing.T) {
	original := L.Logger.GetLevel()
	defer L.Logger.SetLevel(original)

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("loud"))
}
