package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/tasks"
)

const maxStderr = 4096

// ShellDispatcher runs shell tasks as local commands. The task input is
// written to stdin as JSON and stdout must be a single JSON object.
type ShellDispatcher struct {
	Dir string
	Env []string
}

// NewShellDispatcher creates a dispatcher running commands in dir.
func NewShellDispatcher(dir string) *ShellDispatcher {
	return &ShellDispatcher{Dir: dir}
}

// Dispatch implements Dispatcher.
func (d *ShellDispatcher) Dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	task := req.Task
	if task.Command == "" {
		return nil, errors.Errorf("shell task %s has no command", task.Name)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = tasks.DefaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(task.Input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode task input")
	}

	cmd := exec.CommandContext(ctx, task.Command, task.Args...)
	cmd.Dir = d.Dir
	cmd.Env = append(append(os.Environ(), d.Env...),
		"BABYSITTER_RUN_ID="+req.RunID,
		"BABYSITTER_PHASE="+req.Phase,
		"BABYSITTER_TASK="+task.Name,
		fmt.Sprintf("BABYSITTER_SEQ=%d", req.Seq),
	)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.G(ctx).WithField("task", task.Name).WithField("command", task.Command).Debug("running shell task")

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Errorf("shell task %s timed out after %s", task.Name, timeout)
		}
		return nil, errors.Wrapf(err, "shell task %s failed: %s", task.Name, tail(stderr.String()))
	}

	obj, ok := asObject(strings.TrimSpace(RepairText(stdout.Bytes())))
	if !ok {
		return nil, errors.Wrapf(ErrNoJSON, "shell task %s: stdout must be a single JSON object, got %q", task.Name, tail(stdout.String()))
	}
	if _, err := tasks.ValidateOutput(task.Schema, obj); err != nil {
		return nil, errors.Wrapf(err, "shell task %s", task.Name)
	}
	return obj, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
