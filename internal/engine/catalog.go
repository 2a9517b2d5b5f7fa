// Package engine assembles the scheduler from configuration and content and
// drives it at a fixed tick rate.
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/gamemap"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/scheduler"
	"github.com/cory-johannsen/rotator/internal/scripting"
)

// CatalogConfig locates and tunes map content.
type CatalogConfig struct {
	MapsDir string
	// ScriptsDir holds scripts shared by every map. Optional.
	ScriptsDir       string
	InstructionLimit int
	Bindings         action.Bindings
	Defaults         gamemap.Defaults
	Thresholds       pathing.Thresholds
	Builtins         priority.Builtins
}

// Catalog turns loaded maps into scheduler plans. It is the scheduler's
// PlanSource and is safe for concurrent use: Reload may run on the watcher
// goroutine while the tick goroutine resolves plans.
type Catalog struct {
	cfg      CatalogConfig
	maps     *gamemap.Manager
	scripts  *scripting.Manager
	counters priority.Counters
	logger   *zap.Logger

	mu       sync.Mutex
	reloaded time.Time
}

// NewCatalog loads every map and its scripts.
//
// Precondition: scripts and logger must be non-nil.
// Postcondition: Returns a Catalog holding at least one map, or a non-nil error.
func NewCatalog(cfg CatalogConfig, scripts *scripting.Manager, counters priority.Counters, logger *zap.Logger) (*Catalog, error) {
	if scripts == nil || logger == nil {
		panic("engine.NewCatalog: scripts and logger must be non-nil")
	}
	maps, err := gamemap.LoadMapsFromDir(cfg.MapsDir, cfg.Bindings, cfg.Defaults)
	if err != nil {
		return nil, err
	}
	mgr, err := gamemap.NewManager(maps)
	if err != nil {
		return nil, err
	}
	c := &Catalog{cfg: cfg, maps: mgr, scripts: scripts, counters: counters, logger: logger}
	if err := c.loadScripts(maps); err != nil {
		return nil, err
	}
	c.reloaded = time.Now()
	logger.Info("content loaded", zap.Int("maps", mgr.Count()), zap.Strings("names", mgr.Names()))
	return c, nil
}

// Maps exposes the loaded maps.
func (c *Catalog) Maps() *gamemap.Manager { return c.maps }

// Reload re-reads every map and script. On error the previous content stays
// in effect.
func (c *Catalog) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps, err := gamemap.LoadMapsFromDir(c.cfg.MapsDir, c.cfg.Bindings, c.cfg.Defaults)
	if err != nil {
		return fmt.Errorf("reloading maps: %w", err)
	}
	if err := c.maps.Replace(maps); err != nil {
		return fmt.Errorf("reloading maps: %w", err)
	}
	if err := c.loadScripts(maps); err != nil {
		return fmt.Errorf("reloading scripts: %w", err)
	}
	c.reloaded = time.Now()
	c.logger.Info("content reloaded", zap.Int("maps", c.maps.Count()))
	return nil
}

// ReloadedAt returns when content was last loaded.
func (c *Catalog) ReloadedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloaded
}

func (c *Catalog) loadScripts(maps []*gamemap.Map) error {
	if c.cfg.ScriptsDir != "" {
		if _, err := os.Stat(c.cfg.ScriptsDir); err == nil {
			if err := c.scripts.LoadGlobal(c.cfg.ScriptsDir, c.cfg.InstructionLimit); err != nil {
				return err
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("scripts dir %q: %w", c.cfg.ScriptsDir, err)
		}
	}
	for _, m := range maps {
		if m.ScriptDir == "" {
			continue
		}
		limit := m.ScriptInstructionLimit
		if limit <= 0 {
			limit = c.cfg.InstructionLimit
		}
		if err := c.scripts.LoadMap(m.Name, m.ScriptDir, limit); err != nil {
			return err
		}
	}
	return nil
}

// Plan builds the plan of the map called name.
func (c *Catalog) Plan(name string) (scheduler.Plan, error) {
	m, ok := c.maps.Get(name)
	if !ok {
		return scheduler.Plan{}, fmt.Errorf("map %q not found", name)
	}
	return c.plan(m)
}

// PlanFor resolves the plan of the map recognised by identity.
func (c *Catalog) PlanFor(identity string) (scheduler.Plan, bool) {
	m, ok := c.maps.ByIdentity(identity)
	if !ok {
		return scheduler.Plan{}, false
	}
	p, err := c.plan(m)
	if err != nil {
		c.logger.Warn("map plan rejected", zap.String("map", m.Name), zap.Error(err))
		return scheduler.Plan{}, false
	}
	return p, true
}

// plan builds fresh triggers sharing the catalog's failure counters.
func (c *Catalog) plan(m *gamemap.Map) (scheduler.Plan, error) {
	rot, err := m.Rotation(c.cfg.Thresholds)
	if err != nil {
		return scheduler.Plan{}, fmt.Errorf("map %q: %w", m.Name, err)
	}
	// A nil *pathing.Graph must not become a non-nil Planner.
	var planner executor.Planner
	if g := m.Graph(c.cfg.Thresholds); g != nil {
		planner = g
	}
	_, prio := m.Units()
	triggers := c.cfg.Builtins.Build(c.counters, c.logger)
	triggers = append(triggers, priority.FromUnits(prio, mapConditions{scripts: c.scripts, name: m.Name}, c.logger)...)
	return scheduler.Plan{
		Map:      m.Name,
		Identity: m.Identity,
		Rotation: rot,
		Planner:  planner,
		Triggers: triggers,
	}, nil
}

// mapConditions evaluates hooks in the VM of one map.
type mapConditions struct {
	scripts *scripting.Manager
	name    string
}

func (c mapConditions) Ready(hook string, snap *perception.Snapshot) (bool, error) {
	c.scripts.SetMap(c.name)
	return c.scripts.Ready(hook, snap)
}
