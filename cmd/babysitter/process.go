package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/process"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "List, inspect and validate process definitions",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed processes",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		registry, err := a.processes()
		if err != nil {
			return err
		}
		list := registry.List()
		if len(list) == 0 {
			presenter.Info(fmt.Sprintf("No processes found in %s", strings.Join(registry.Dirs(), ", ")))
			return nil
		}
		return displayProcesses(os.Stdout, list)
	},
}

var processShowCmd = &cobra.Command{
	Use:   "show <process-id>",
	Short: "Show a process definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		registry, err := a.processes()
		if err != nil {
			return err
		}
		def, err := registry.Get(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode process")
		}
		fmt.Println(string(out))
		return nil
	},
}

// ValidateConfig holds the options of process validate.
type ValidateConfig struct {
	Watch        bool
	DebounceTime int // milliseconds
}

// NewValidateConfig creates a ValidateConfig with default values
func NewValidateConfig() *ValidateConfig {
	return &ValidateConfig{DebounceTime: 300}
}

var processValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every process definition",
	Long: `Parse and validate every process definition in the process directories. With
--watch, keep running and validate again whenever a definition changes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := NewValidateConfig()
		if watch, err := cmd.Flags().GetBool("watch"); err == nil {
			config.Watch = watch
		}
		if debounce, err := cmd.Flags().GetInt("debounce"); err == nil {
			config.DebounceTime = debounce
		}
		if config.DebounceTime < 0 {
			return errors.Errorf("debounce time cannot be negative: %d", config.DebounceTime)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		registry := process.NewRegistry(a.cfg.ProcessDirs...)

		err = validateProcesses(registry)
		if !config.Watch {
			return err
		}
		return watchProcesses(cmd.Context(), registry, time.Duration(config.DebounceTime)*time.Millisecond)
	},
}

func init() {
	defaults := NewValidateConfig()
	processValidateCmd.Flags().BoolP("watch", "w", defaults.Watch, "validate again whenever a definition changes")
	processValidateCmd.Flags().IntP("debounce", "d", defaults.DebounceTime, "debounce time in milliseconds for file change events")

	processCmd.AddCommand(processListCmd, processShowCmd, processValidateCmd)
}

func displayProcesses(w io.Writer, list []*process.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASES\tNAME")
	for _, def := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", def.ID, len(def.Phases), def.Name)
	}
	return tw.Flush()
}

// validateProcesses reloads the registry and reports every problem found.
func validateProcesses(registry *process.Registry) error {
	if err := registry.Load(); err != nil {
		return err
	}

	problems := registry.Problems()
	if problems == nil {
		presenter.Success(fmt.Sprintf("%d processes valid", len(registry.List())))
		return nil
	}

	var merr *multierror.Error
	if errors.As(problems, &merr) {
		for _, p := range merr.Errors {
			presenter.Error(p, "invalid process")
		}
	}
	return errors.Wrapf(problems, "%d processes valid", len(registry.List()))
}

// FileEvent is a change to a watched file.
type FileEvent struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

func watchProcesses(ctx context.Context, registry *process.Registry, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	dirs, err := watchDirs(registry.Dirs())
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "failed to watch %s", dir)
		}
		logger.G(ctx).WithField("directory", dir).Debug("watching directory")
	}
	if len(dirs) == 0 {
		return errors.Errorf("no process directories exist among %s", strings.Join(registry.Dirs(), ", "))
	}

	events := make(chan FileEvent)
	debounced := make(chan FileEvent)
	go debounceFileEvents(ctx, events, debounced, debounce)

	go func() {
		for {
			select {
			case event := <-debounced:
				presenter.Info(fmt.Sprintf("Change detected: %s (%s)", event.Path, event.Op))
				if err := validateProcesses(registry); err != nil {
					logger.G(ctx).WithError(err).Debug("validation failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	presenter.Info("Watching process definitions... Press Ctrl+C to stop")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
					}
					continue
				}
			}
			if !isDefinitionFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case events <- FileEvent{Path: event.Name, Op: event.Op, Time: time.Now()}:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Error("error watching process definitions")
		case <-ctx.Done():
			return nil
		}
	}
}

// watchDirs expands the existing process directories into every directory
// beneath them; fsnotify watches are not recursive.
func watchDirs(roots []string) ([]string, error) {
	var dirs []string
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s", root)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isDefinitionFile(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// debounceFileEvents delays each event until its path has been quiet for
// delay, dropping the intermediate events.
func debounceFileEvents(ctx context.Context, input <-chan FileEvent, output chan<- FileEvent, delay time.Duration) {
	pending := make(map[string]*time.Timer)
	fired := make(chan FileEvent)

	stopAll := func() {
		for _, timer := range pending {
			timer.Stop()
		}
	}

	for {
		select {
		case event, ok := <-input:
			if !ok {
				stopAll()
				return
			}
			if timer, exists := pending[event.Path]; exists {
				timer.Stop()
			}
			eventCopy := event
			pending[event.Path] = time.AfterFunc(delay, func() {
				select {
				case fired <- eventCopy:
				case <-ctx.Done():
				}
			})
		case event := <-fired:
			delete(pending, event.Path)
			select {
			case output <- event:
			case <-ctx.Done():
				stopAll()
				return
			}
		case <-ctx.Done():
			stopAll()
			return
		}
	}
}
