package engine_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rotator/internal/engine"
	"github.com/cory-johannsen/rotator/internal/game/gamemap"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/random"
	"github.com/cory-johannsen/rotator/internal/game/rotation"
	"github.com/cory-johannsen/rotator/internal/scripting"
)

func newCatalog(t *testing.T, builtins priority.Builtins) *engine.Catalog {
	t.Helper()
	logger := zaptest.NewLogger(t)
	scripts := scripting.NewManager(random.NewSeeded(3), logger)
	t.Cleanup(scripts.Close)
	bindings := map[string]bool{"space": true}
	for _, k := range skills {
		bindings[k] = true
	}
	c, err := engine.NewCatalog(engine.CatalogConfig{
		MapsDir:          filepath.Join(contentDir, "maps"),
		ScriptsDir:       filepath.Join(contentDir, "scripts"),
		InstructionLimit: 10000,
		Bindings:         bindings,
		Defaults:         gamemap.Defaults{GracePeriod: time.Second, DetectInterval: 500 * time.Millisecond},
		Thresholds:       pathing.DefaultThresholds(),
		Builtins:         builtins,
	}, scripts, priority.NewCounters(3), logger)
	require.NoError(t, err)
	return c
}

func triggerNames(ts []priority.Trigger) []string {
	out := make([]string, len(ts))
	for i, tr := range ts {
		out[i] = tr.Name()
	}
	return out
}

func TestCatalog_PlanCombinesBuiltinsAndPriorityActions(t *testing.T) {
	c := newCatalog(t, priority.Builtins{Rune: &priority.RuneConfig{Key: "space", Buff: "rune"}})

	p, err := c.Plan("hunting_ground")
	require.NoError(t, err)
	assert.Equal(t, "hunting_ground", p.Map)
	assert.Equal(t, "henesys_hunting_ground_1", p.Identity)
	assert.Equal(t, rotation.StartToEndThenReverse, p.Rotation.Mode)
	assert.NotNil(t, p.Planner)

	names := triggerNames(p.Triggers)
	assert.Contains(t, names, "solve_rune")
	assert.Contains(t, names, "area_burst")
	assert.Contains(t, names, "meteor")
}

func TestCatalog_MapWithoutPlatformsHasNoPlanner(t *testing.T) {
	c := newCatalog(t, priority.Builtins{})

	p, err := c.Plan("sleepywood")
	require.NoError(t, err)
	assert.Nil(t, p.Planner)
	assert.Equal(t, rotation.PingPong, p.Rotation.Mode)
}

func TestCatalog_PlanForIdentity(t *testing.T) {
	c := newCatalog(t, priority.Builtins{})

	p, ok := c.PlanFor("mushroom_forest_1")
	require.True(t, ok)
	assert.Equal(t, "mushroom_forest", p.Map)
	assert.Equal(t, rotation.AutoMobbing, p.Rotation.Mode)

	_, ok = c.PlanFor("ellinia_tree")
	assert.False(t, ok)

	_, err := c.Plan("ellinia")
	assert.Error(t, err)
}

func TestCatalog_PlansDoNotShareTriggers(t *testing.T) {
	c := newCatalog(t, priority.Builtins{Rune: &priority.RuneConfig{Key: "space"}})

	a, err := c.Plan("hunting_ground")
	require.NoError(t, err)
	b, err := c.Plan("hunting_ground")
	require.NoError(t, err)
	require.Equal(t, len(a.Triggers), len(b.Triggers))
	for i := range a.Triggers {
		assert.NotSame(t, a.Triggers[i], b.Triggers[i])
	}
}

func TestCatalog_MissingMapsDir(t *testing.T) {
	logger := zaptest.NewLogger(t)
	scripts := scripting.NewManager(random.NewSeeded(3), logger)
	defer scripts.Close()
	_, err := engine.NewCatalog(engine.CatalogConfig{MapsDir: filepath.Join(t.TempDir(), "none")},
		scripts, priority.NewCounters(3), logger)
	assert.Error(t, err)
}
