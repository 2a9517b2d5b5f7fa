package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/config"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/movement"
	"github.com/cory-johannsen/rotator/internal/game/navigation"
	"github.com/cory-johannsen/rotator/internal/game/notify"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/random"
	"github.com/cory-johannsen/rotator/internal/game/scheduler"
	"github.com/cory-johannsen/rotator/internal/observability"
	"github.com/cory-johannsen/rotator/internal/scripting"
)

// Runtime is a fully wired engine and the collaborators its loops share.
type Runtime struct {
	Engine     *Engine
	Store      *perception.Store
	Hub        *notify.Hub
	Catalog    *Catalog
	Navigation *navigation.Controller

	cfg     config.Config
	scripts *scripting.Manager
	replay  *perception.Replay
	logger  *zap.Logger
}

// Build loads content and wires the scheduler described by cfg.
//
// Precondition: cfg passed Validate; sink and logger must be non-nil.
// Postcondition: Returns a Runtime ready to Serve, or a non-nil error.
func Build(cfg config.Config, sink input.Sink, src random.Source, logger *zap.Logger) (*Runtime, error) {
	if sink == nil || src == nil || logger == nil {
		panic("engine.Build: sink, src and logger must be non-nil")
	}
	named := func(component string) *zap.Logger { return logger.Named(component) }
	hub := notify.NewHub(named(observability.Notify))
	counters := priority.NewCounters(cfg.Limits.PanicChannels)
	scripts := scripting.NewManager(src, named(observability.Scripting))

	catalog, err := NewCatalog(CatalogConfig{
		MapsDir:          cfg.Content.MapsDir,
		ScriptsDir:       cfg.Content.ScriptsDir,
		InstructionLimit: cfg.Content.InstructionLimit,
		Bindings:         Bindings(cfg.Character),
		Defaults:         MapDefaults(cfg),
		Thresholds:       pathing.DefaultThresholds(),
		Builtins:         Builtins(cfg),
	}, scripts, counters, named(observability.Catalog))
	if err != nil {
		scripts.Close()
		return nil, fmt.Errorf("loading content: %w", err)
	}
	plan, err := catalog.Plan(cfg.Scheduler.Map)
	if err != nil {
		scripts.Close()
		return nil, fmt.Errorf("scheduler.map: %w", err)
	}

	groups, err := loadGroups(cfg.Content.NavigationDir)
	if err != nil {
		scripts.Close()
		return nil, fmt.Errorf("loading navigation: %w", err)
	}
	nav := navigation.NewController(NavigationConfig(cfg), groups, hub, named(observability.Navigation))

	var sched *scheduler.Scheduler
	base := MovementConfig(cfg)
	newMover := func() *movement.Machine {
		mc := base
		if sched != nil {
			if m, ok := catalog.Maps().Get(sched.Status().Map); ok && m.UpJumpOnly {
				mc.Thresholds.UpJumpOnly = true
			}
		}
		return movement.NewMachine(mc, src, named(observability.Movement))
	}
	exec := executor.New(ExecutorConfig(cfg), plan.Planner, newMover, src, named(observability.Executor))

	sched, err = scheduler.New(SchedulerConfig(cfg), plan, scheduler.Deps{
		Executor:   exec,
		Navigation: nav,
		Counters:   counters,
		Notifier:   hub,
		Plans:      catalog,
		Source:     src,
	}, named(observability.Scheduler))
	if err != nil {
		scripts.Close()
		return nil, err
	}

	store := &perception.Store{}
	rt := &Runtime{
		Engine:     New(sched, store, sink, cfg.Scheduler.TickInterval, named(observability.Engine)),
		Store:      store,
		Hub:        hub,
		Catalog:    catalog,
		Navigation: nav,
		cfg:        cfg,
		scripts:    scripts,
		logger:     named(observability.Catalog),
	}
	if cfg.Content.Replay != "" {
		rt.replay, err = perception.LoadReplay(cfg.Content.Replay, store, named(observability.Perception))
		if err != nil {
			scripts.Close()
			return nil, fmt.Errorf("loading replay: %w", err)
		}
	}

	if m, ok := catalog.Maps().Get(cfg.Scheduler.Map); ok && m.Destination != nil {
		if err := sched.Navigate(m.Destination.Group, m.Destination.Path); err != nil {
			logger.Warn("initial navigation not queued", zap.Error(err))
		}
	}
	if cfg.Scheduler.Autostart {
		if err := sched.Start(); err != nil {
			logger.Warn("autostart not queued", zap.Error(err))
		}
	}
	return rt, nil
}

func loadGroups(dir string) (map[string]*navigation.Group, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return navigation.LoadGroupsFromDir(dir)
}

// Loops returns the loops to Serve beside the tick loop: the notification
// listener, the replay source when configured, and the content watcher when
// enabled.
func (rt *Runtime) Loops() []Loop {
	loops := []Loop{rt.Engine.Listen(rt.Hub, rt.cfg.Notifications.Buffer)}
	if rt.replay != nil {
		loops = append(loops, rt.replay.Run)
	}
	if rt.cfg.Content.Watch {
		dirs := []string{rt.cfg.Content.MapsDir}
		if rt.cfg.Content.ScriptsDir != "" {
			if _, err := os.Stat(rt.cfg.Content.ScriptsDir); err == nil {
				dirs = append(dirs, rt.cfg.Content.ScriptsDir)
			}
		}
		w := config.NewWatcher(dirs, rt.cfg.Content.Debounce, rt.logger)
		loops = append(loops, func(ctx context.Context) error {
			return w.Run(ctx, func(paths []string) { rt.ContentChanged(paths) })
		})
	}
	return loops
}

// Serve runs the engine with every loop from Loops.
func (rt *Runtime) Serve(ctx context.Context) error {
	return rt.Engine.Serve(ctx, rt.Loops()...)
}

// ContentChanged reloads content and asks the scheduler to switch to the
// reloaded plan of the current map at its next safe boundary.
func (rt *Runtime) ContentChanged(paths []string) {
	rt.logger.Info("content changed", zap.Strings("paths", paths))
	if err := rt.Catalog.Reload(); err != nil {
		rt.logger.Warn("content reload rejected", zap.Error(err))
		return
	}
	name := rt.Engine.Scheduler().Status().Map
	if name == "" {
		name = rt.cfg.Scheduler.Map
	}
	plan, err := rt.Catalog.Plan(name)
	if err != nil {
		rt.logger.Warn("reloaded plan rejected", zap.String("map", name), zap.Error(err))
		return
	}
	if err := rt.Engine.Scheduler().Reconfigure(plan); err != nil {
		rt.logger.Warn("reconfigure not queued", zap.Error(err))
	}
}

// Close releases the script VMs.
func (rt *Runtime) Close() {
	rt.scripts.Close()
}
