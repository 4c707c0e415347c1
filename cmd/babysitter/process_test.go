package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a5c-ai/babysitter/pkg/process"
)

func TestDebounceFileEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan FileEvent)
	output := make(chan FileEvent, 10)
	go debounceFileEvents(ctx, input, output, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		input <- FileEvent{Path: "a.yaml", Op: fsnotify.Write, Time: time.Now()}
	}
	input <- FileEvent{Path: "b.yaml", Op: fsnotify.Create, Time: time.Now()}

	got := map[string]fsnotify.Op{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case event := <-output:
			got[event.Path] = event.Op
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, fsnotify.Write, got["a.yaml"])
	assert.Equal(t, fsnotify.Create, got["b.yaml"])

	select {
	case event := <-output:
		t.Fatalf("unexpected extra event %v", event)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatchDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "methodologies", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "specializations"), 0o755))

	dirs, err := watchDirs([]string{root, filepath.Join(root, "missing")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "methodologies"),
		filepath.Join(root, "methodologies", "nested"),
		filepath.Join(root, "specializations"),
	}, dirs)
}

func TestIsDefinitionFile(t *testing.T) {
	assert.True(t, isDefinitionFile("processes/a.yaml"))
	assert.True(t, isDefinitionFile("processes/a.yml"))
	assert.False(t, isDefinitionFile("processes/a.yaml.swp"))
	assert.False(t, isDefinitionFile("processes/README.md"))
}

func TestValidateProcesses(t *testing.T) {
	registry := process.NewRegistry("../../examples/processes")
	assert.NoError(t, validateProcesses(registry))
	assert.Len(t, registry.List(), 2)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: broken\nphases: []\n"), 0o644))
	err := validateProcesses(process.NewRegistry(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 processes valid")
}
