package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/a5c-ai/babysitter/pkg/agents"
	"github.com/a5c-ai/babysitter/pkg/breakpoints"
	"github.com/a5c-ai/babysitter/pkg/catalog"
	"github.com/a5c-ai/babysitter/pkg/config"
	"github.com/a5c-ai/babysitter/pkg/dispatch"
	"github.com/a5c-ai/babysitter/pkg/logger"
	"github.com/a5c-ai/babysitter/pkg/orchestrator"
	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/process"
	"github.com/a5c-ai/babysitter/pkg/runs"
	"github.com/a5c-ai/babysitter/pkg/skills"
)

// app holds the components a command needs. Fields are populated lazily by
// the accessor methods so cheap commands never touch the database or providers.
type app struct {
	cfg      config.Config
	registry *process.Registry
	store    *runs.SQLiteStore
	locker   *runs.Locker
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg}, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.G(context.TODO()).WithError(err).Warn("failed to close run store")
		}
	}
}

// processes loads the process registry. Broken definitions are reported as
// warnings and skipped.
func (a *app) processes() (*process.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	registry := process.NewRegistry(a.cfg.ProcessDirs...)
	if err := registry.Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load processes")
	}
	if problems := registry.Problems(); problems != nil {
		logger.G(context.TODO()).WithError(problems).Warn("some process definitions were skipped")
	}
	a.registry = registry
	return registry, nil
}

func (a *app) runStore(ctx context.Context) (*runs.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create state directory")
	}
	store, err := runs.NewSQLiteStore(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open run store")
	}
	a.store = store
	return store, nil
}

func (a *app) runLocker() (*runs.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	locker, err := runs.NewLocker(filepath.Join(a.cfg.BasePath, "locks"))
	if err != nil {
		return nil, err
	}
	a.locker = locker
	return locker, nil
}

func (a *app) skillDiscovery() (*skills.Discovery, error) {
	return skills.NewDiscovery(
		skills.WithSkillDirs(a.cfg.SkillDirs...),
		skills.WithPluginsDir(filepath.Join(a.cfg.BasePath, "plugins")),
		skills.WithAllowlist(a.cfg.Skills.Allowed),
	)
}

func (a *app) agentManager(ctx context.Context) (*agents.AgentManager, error) {
	processor, err := agents.NewAgentProcessor(
		agents.WithAgentDirs(a.cfg.AgentDirs...),
		agents.WithAllowlist(a.cfg.Agents.Allowed),
	)
	if err != nil {
		return nil, err
	}
	return agents.Load(ctx, processor)
}

// catalogIndex loads every catalog the runtime knows about.
func (a *app) catalogIndex(ctx context.Context) (*catalog.Index, error) {
	discovery, err := a.skillDiscovery()
	if err != nil {
		return nil, err
	}
	skillSet, err := discovery.DiscoverSkills()
	if err != nil {
		return nil, err
	}
	manager, err := a.agentManager(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := a.processes()
	if err != nil {
		return nil, err
	}
	return catalog.NewIndex(skillSet, manager.Agents(), registry.List()), nil
}

// breakpointMode resolves the configured mode. Interactive approval needs a
// terminal on stdin; without one the run defers its breakpoints instead of
// blocking on a read that can never be answered.
func (a *app) breakpointMode(autoApprove bool) string {
	if autoApprove {
		return config.BreakpointAuto
	}
	mode := a.cfg.Breakpoints.Mode
	if mode == config.BreakpointInteractive && !stdinIsTerminal() {
		logger.G(context.TODO()).Info("stdin is not a terminal, deferring breakpoints")
		return config.BreakpointDeferred
	}
	return mode
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// orchestrator wires the full runtime: registry, store, lock, dispatchers
// and the approver for the effective breakpoint mode.
func (a *app) orchestrator(ctx context.Context, autoApprove bool) (*orchestrator.Orchestrator, error) {
	registry, err := a.processes()
	if err != nil {
		return nil, err
	}
	store, err := a.runStore(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.runLocker()
	if err != nil {
		return nil, err
	}
	manager, err := a.agentManager(ctx)
	if err != nil {
		return nil, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get working directory")
	}
	router := &dispatch.Router{
		Agent: dispatch.NewAgentDispatcher(a.cfg, dispatch.WithAgents(manager)),
		Shell: dispatch.NewShellDispatcher(workDir),
	}

	approver, err := breakpoints.New(a.breakpointMode(autoApprove), store, presenter.Default())
	if err != nil {
		return nil, err
	}

	return orchestrator.New(registry, store, router, approver, orchestrator.WithLocker(locker)), nil
}
