package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/a5c-ai/babysitter/pkg/orchestrator"
	"github.com/a5c-ai/babysitter/pkg/presenter"
)

// Exit codes reported by run and resume.
const (
	exitFailure = 1
	exitWaiting = 2
)

// errProcessFailed marks a run that completed with success=false.
var errProcessFailed = errors.New("process reported failure")

// RunConfig holds the options of the run and resume commands.
type RunConfig struct {
	Inputs     []string
	InputsFile string
	Yes        bool
	JSON       bool
}

// NewRunConfig creates a RunConfig with default values
func NewRunConfig() *RunConfig {
	return &RunConfig{}
}

var runCmd = &cobra.Command{
	Use:   "run <process-id>",
	Short: "Run a process",
	Long: `Start a new run of a process. Inputs are given as key=value pairs, where values
are parsed as JSON when possible and taken as strings otherwise, or as a JSON/YAML file.

Examples:
  babysitter run methodologies/spec-driven --input feature="Export invoices as CSV"
  babysitter run specializations/devops/container-hardening --inputs-file inputs.yaml --yes
  babysitter run methodologies/spec-driven --input maxStories=5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getRunConfigFromFlags(cmd)
		inputs, err := loadInputs(config.InputsFile, config.Inputs)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(cmd.Context(), config.Yes)
		if err != nil {
			return err
		}

		result, err := orch.Run(cmd.Context(), args[0], inputs)
		return reportResult(result, err, config.JSON)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a waiting or failed run",
	Long: `Resume a run that is waiting on a breakpoint or failed part way. Journaled task
results are replayed without dispatching again, and breakpoints decided out of band
with 'babysitter breakpoint approve|reject' take effect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getRunConfigFromFlags(cmd)

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(cmd.Context(), config.Yes)
		if err != nil {
			return err
		}

		result, err := orch.Resume(cmd.Context(), args[0])
		return reportResult(result, err, config.JSON)
	},
}

func init() {
	defaults := NewRunConfig()
	runCmd.Flags().StringArrayP("input", "i", defaults.Inputs, "process input as key=value (repeatable)")
	runCmd.Flags().StringP("inputs-file", "f", defaults.InputsFile, "JSON or YAML file with process inputs")
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().BoolP("yes", "y", defaults.Yes, "approve every breakpoint automatically")
		cmd.Flags().Bool("json", defaults.JSON, "print the run result as JSON")
	}
}

func getRunConfigFromFlags(cmd *cobra.Command) *RunConfig {
	config := NewRunConfig()
	if inputs, err := cmd.Flags().GetStringArray("input"); err == nil {
		config.Inputs = inputs
	}
	if file, err := cmd.Flags().GetString("inputs-file"); err == nil {
		config.InputsFile = file
	}
	if yes, err := cmd.Flags().GetBool("yes"); err == nil {
		config.Yes = yes
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

// loadInputs merges the inputs file with key=value pairs, pairs winning.
func loadInputs(file string, pairs []string) (map[string]any, error) {
	inputs := make(map[string]any)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read inputs file")
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, errors.Wrapf(err, "failed to parse inputs file %s", file)
		}
		if inputs == nil {
			inputs = make(map[string]any)
		}
	}

	parsed, err := parseInputs(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range parsed {
		inputs[k] = v
	}
	return inputs, nil
}

// parseInputs turns key=value pairs into inputs. Values that parse as JSON
// keep their JSON type; anything else is a string.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid input %q, expected key=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		inputs[key] = value
	}
	return inputs, nil
}

// reportResult prints the outcome of a run and maps it onto the command error.
func reportResult(result *orchestrator.Result, runErr error, asJSON bool) error {
	if result == nil {
		return runErr
	}

	if asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode result")
		}
		fmt.Println(string(out))
	} else {
		presenter.Summary(&presenter.RunSummary{
			RunID:       result.RunID,
			ProcessID:   result.ProcessID,
			Success:     result.Success,
			Status:      string(result.Status),
			Duration:    time.Duration(result.Duration) * time.Millisecond,
			Phases:      result.Metadata.Executed,
			Replayed:    result.Metadata.Replayed,
			Artifacts:   len(result.Artifacts),
			FailedPhase: result.FailedPhase,
			Error:       result.Error,
		})
		if result.Breakpoint != "" {
			presenter.Warning(fmt.Sprintf("run %s is waiting at breakpoint %q; decide it with 'babysitter breakpoint approve|reject', then 'babysitter resume %s'",
				result.RunID, result.Breakpoint, result.RunID))
		}
		if result.Success && runErr == nil {
			presenter.Success(fmt.Sprintf("run %s completed", result.RunID))
		}
	}

	if runErr != nil {
		return runErr
	}
	if !result.Success {
		return errors.Wrapf(errProcessFailed, "phase %s", result.FailedPhase)
	}
	return nil
}

// exitCode maps command errors onto process exit codes. A run suspended on
// a breakpoint is not a failure but still must not look like success.
func exitCode(err error) int {
	if errors.Is(err, orchestrator.ErrRunWaiting) {
		return exitWaiting
	}
	return exitFailure
}
