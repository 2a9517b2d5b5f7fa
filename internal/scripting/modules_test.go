package scripting_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/scripting"
)

func runScript(t *testing.T, mgr *scripting.Manager, luaSrc, hook string, args ...lua.LValue) lua.LValue {
	t.Helper()
	dir := writeTempLua(t, "test.lua", luaSrc)
	mapName := "modtest_" + t.Name()
	require.NoError(t, mgr.LoadMap(mapName, dir, 0))
	ret, err := mgr.CallHook(mapName, hook, args...)
	require.NoError(t, err)
	return ret
}

func TestRotatorLog_AllLevels(t *testing.T) {
	mgr, logs := newTestManager(t)
	runScript(t, mgr, `
		function do_all_logs()
			rotator.log.debug("d")
			rotator.log.info("i")
			rotator.log.warn("w")
			rotator.log.error("e")
		end
	`, "do_all_logs")

	levels := map[string]bool{}
	for _, e := range logs.FilterField(zap.String("source", "lua")).All() {
		levels[e.Level.String()] = true
	}
	assert.Equal(t, map[string]bool{"debug": true, "info": true, "warn": true, "error": true}, levels)
}

func TestRotatorDistance(t *testing.T) {
	mgr, _ := newTestManager(t)
	ret := runScript(t, mgr, `
		function dist() return rotator.distance(0, 0, 3, 4) end
	`, "dist")
	assert.Equal(t, lua.LNumber(5), ret)
}

func TestProperty_RotatorRandom_WithinRange(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := writeTempLua(t, "rand.lua", `function roll(lo, hi) return rotator.random(lo, hi) end`)
	require.NoError(t, mgr.LoadMap("rand", dir, 0))
	rapid.Check(t, func(rt *rapid.T) {
		lo := rapid.IntRange(-50, 50).Draw(rt, "lo")
		hi := lo + rapid.IntRange(0, 50).Draw(rt, "span")
		ret, err := mgr.CallHook("rand", "roll", lua.LNumber(lo), lua.LNumber(hi))
		if err != nil {
			rt.Fatal(err)
		}
		n := int(ret.(lua.LNumber))
		if n < lo || n > hi {
			rt.Fatalf("random(%d, %d) = %d", lo, hi, n)
		}
	})
}

func TestSnapshotToTable_Fields(t *testing.T) {
	L := scripting.NewSandboxedState(0)
	defer L.Close()

	player := geom.Pt(10, 20)
	spot := geom.Pt(5, 6)
	snap := &perception.Snapshot{
		Frame:             9,
		Player:            &player,
		Capabilities:      perception.Capabilities{CanTeleport: true},
		Mobs:              []geom.Point{geom.Pt(1, 2), geom.Pt(3, 4)},
		Players:           []perception.Sighting{{Affiliation: perception.AffiliationStranger}, {Affiliation: perception.AffiliationStranger}},
		Buffs:             map[string]bool{"holy": true},
		Skills:            map[string]bool{"nuke": false},
		MinimapIdentity:   "arcana",
		MinimapConfidence: 0.9,
		Rune:              &spot,
		EliteBoss:         true,
	}
	L.SetGlobal("s", scripting.SnapshotToTable(L, snap))
	require.NoError(t, L.DoString(`
		assert(s.frame == 9)
		assert(s.player.x == 10 and s.player.y == 20)
		assert(#s.mobs == 2 and s.mobs[2].x == 3)
		assert(s.buffs.holy == true)
		assert(s.skills.nuke == false)
		assert(s.players.stranger == 2 and s.players.friend == 0)
		assert(s.minimap.identity == "arcana")
		assert(s.rune.x == 5)
		assert(s.elite_boss == true and s.dead == false)
		assert(s.can.teleport == true and s.can.grapple == false)
	`))
}

func TestSnapshotToTable_NilSnapshot(t *testing.T) {
	L := scripting.NewSandboxedState(0)
	defer L.Close()
	L.SetGlobal("s", scripting.SnapshotToTable(L, nil))
	assert.NoError(t, L.DoString(`assert(s.player == nil and s.mobs == nil)`))
}

// repoRoot walks up from the test's working directory to find the module root.
func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	root := wd
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root
		}
		parent := filepath.Dir(root)
		if parent == root {
			t.Fatalf("could not find repo root from %s", wd)
		}
		root = parent
	}
}

func TestContentConditions(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.LoadGlobal(filepath.Join(repoRoot(t), "content", "scripts"), 0))

	player := geom.Pt(0, 0)
	pack := &perception.Snapshot{Player: &player, Mobs: []geom.Point{geom.Pt(5, 0), geom.Pt(-10, 0), geom.Pt(0, 20)}}
	sparse := &perception.Snapshot{Player: &player, Mobs: []geom.Point{geom.Pt(5, 0), geom.Pt(100, 0), geom.Pt(0, 200)}}
	watched := &perception.Snapshot{Players: []perception.Sighting{{Affiliation: perception.AffiliationStranger}}}

	cases := []struct {
		hook string
		snap *perception.Snapshot
		want bool
	}{
		{"pack_nearby", pack, true},
		{"pack_nearby", sparse, false},
		{"pack_nearby", &perception.Snapshot{}, false},
		{"rebuff_when_alone", &perception.Snapshot{}, true},
		{"rebuff_when_alone", watched, false},
		{"rebuff_when_alone", &perception.Snapshot{Buffs: map[string]bool{"party": true}}, false},
		{"elite_burst", &perception.Snapshot{EliteBoss: true, Skills: map[string]bool{"burst": true}}, true},
		{"elite_burst", &perception.Snapshot{EliteBoss: true}, false},
	}
	for _, tc := range cases {
		got, err := mgr.Ready(tc.hook, tc.snap)
		require.NoError(t, err, tc.hook)
		assert.Equal(t, tc.want, got, tc.hook)
	}
}
