package rotation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
	"github.com/cory-johannsen/rotator/internal/game/rotation"
)

var (
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bound   = geom.Rect(geom.Pt(0, 0), geom.Pt(200, 200))
	mobbing = action.Action{Kind: action.KindKey, Key: "attack", Condition: action.ConditionAny, Origin: action.OriginUser}
)

func units(names ...string) []action.Unit {
	out := make([]action.Unit, len(names))
	for i, n := range names {
		out[i] = action.Single(action.Action{Name: n, Kind: action.KindKey, Key: n, Condition: action.ConditionAny})
	}
	return out
}

func at(x, y int, mobs ...geom.Point) *perception.Snapshot {
	p := geom.Pt(x, y)
	return &perception.Snapshot{Player: &p, Mobs: mobs}
}

func names(t *testing.T, c *rotation.Controller, n int) []string {
	t.Helper()
	var out []string
	for range n {
		u, ok := c.Next(t0, nil)
		require.True(t, ok)
		out = append(out, u.Head().Name)
	}
	return out
}

func TestStartToEnd_Cycles(t *testing.T) {
	c, err := rotation.NewController(rotation.Config{Mode: rotation.StartToEnd, Units: units("A", "B", "C")},
		random.NewSeeded(1), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "A", "B"}, names(t, c, 5))
}

func TestStartToEndThenReverse_Bounces(t *testing.T) {
	c, err := rotation.NewController(rotation.Config{Mode: rotation.StartToEndThenReverse, Units: units("A", "B", "C")},
		random.NewSeeded(1), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "B", "A", "B", "C"}, names(t, c, 7))

	c, err = rotation.NewController(rotation.Config{Mode: rotation.StartToEndThenReverse, Units: units("A")},
		random.NewSeeded(1), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "A"}, names(t, c, 3))
}

func TestProperty_ReverseStepsByOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 12).Draw(t, "n")
		list := make([]string, n)
		for i := range list {
			list[i] = string(rune('a' + i))
		}
		c, err := rotation.NewController(rotation.Config{Mode: rotation.StartToEndThenReverse, Units: units(list...)},
			random.NewSeeded(1), zap.NewNop())
		if err != nil {
			t.Fatalf("controller: %v", err)
		}
		prev := -1
		for range rapid.IntRange(1, 60).Draw(t, "steps") {
			idx := c.Index()
			if _, ok := c.Next(t0, nil); !ok {
				t.Fatalf("no unit")
			}
			if idx < 0 || idx >= n {
				t.Fatalf("index %d out of range", idx)
			}
			if prev >= 0 && geom.Abs(idx-prev) != 1 {
				t.Fatalf("index jumped from %d to %d", prev, idx)
			}
			prev = idx
		}
	})
}

func TestEmptyRotation_HasNothing(t *testing.T) {
	c, err := rotation.NewController(rotation.Config{Mode: rotation.StartToEnd}, random.NewSeeded(1), zap.NewNop())
	require.NoError(t, err)
	_, ok := c.Next(t0, nil)
	assert.False(t, ok)
}

func TestReconfigure(t *testing.T) {
	c, err := rotation.NewController(rotation.Config{Mode: rotation.StartToEnd, Units: units("A", "B")},
		random.NewSeeded(1), zap.NewNop())
	require.NoError(t, err)
	names(t, c, 1)
	assert.Equal(t, 1, c.Index())

	err = c.Reconfigure(rotation.Config{Mode: "sideways"})
	require.Error(t, err)
	assert.Equal(t, rotation.StartToEnd, c.Mode())
	assert.Equal(t, 1, c.Index())

	require.NoError(t, c.Reconfigure(rotation.Config{
		Mode:     rotation.PingPong,
		PingPong: rotation.PingPongConfig{Bound: bound, Key: mobbing},
	}))
	assert.Equal(t, rotation.PingPong, c.Mode())
	assert.NotNil(t, c.Sweeper())
	assert.Nil(t, c.AutoMob())
}

func TestConfig_Validate(t *testing.T) {
	priority := action.Single(action.Action{Kind: action.KindKey, Key: "p", Condition: action.ConditionEveryMillis, Every: time.Second})
	err := rotation.Config{Mode: rotation.StartToEnd, Units: []action.Unit{priority}}.Validate()
	assert.ErrorContains(t, err, "priority action")

	err = rotation.Config{Mode: rotation.AutoMobbing}.Validate()
	assert.ErrorContains(t, err, "valid bound")
	assert.ErrorContains(t, err, "mobbing key")
}

func newAutoMob(t *testing.T, cfg rotation.AutoMobConfig, src random.Source) *rotation.Controller {
	t.Helper()
	c, err := rotation.NewController(rotation.Config{Mode: rotation.AutoMobbing, AutoMob: cfg}, src, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestAutoMob_TargetsMobInActiveQuadrant(t *testing.T) {
	c := newAutoMob(t, rotation.AutoMobConfig{Bound: bound, Key: mobbing, GracePeriod: time.Second}, random.NewSeeded(2))
	// Player in NW (west, above the middle); one mob per quadrant.
	snap := at(50, 150, geom.Pt(40, 160), geom.Pt(150, 160), geom.Pt(150, 40), geom.Pt(40, 40))
	u, ok := c.Next(t0, snap)
	require.True(t, ok)
	assert.Equal(t, geom.NorthWest, c.AutoMob().Quadrant())
	a := u.Head()
	assert.Equal(t, action.KindKey, a.Kind)
	assert.Equal(t, "attack", a.Key)
	assert.Equal(t, action.TaskMobbing, a.Task)
	require.NotNil(t, a.Position)
	assert.Equal(t, geom.Pt(40, 160), geom.Pt(a.Position.X, a.Position.Y))
}

func TestAutoMob_AdvancesClockwiseAfterGrace(t *testing.T) {
	c := newAutoMob(t, rotation.AutoMobConfig{
		Bound: bound, Key: mobbing, GracePeriod: 500 * time.Millisecond,
		UseKeyWhilePathing: true, DetectInterval: 200 * time.Millisecond,
	}, random.NewSeeded(3))
	snap := at(50, 150)

	_, ok := c.Next(t0, snap)
	assert.False(t, ok)
	_, ok = c.Next(t0.Add(400*time.Millisecond), snap)
	assert.False(t, ok)
	assert.Equal(t, geom.NorthWest, c.AutoMob().Quadrant())

	u, ok := c.Next(t0.Add(500*time.Millisecond), snap)
	require.True(t, ok)
	assert.Equal(t, geom.NorthEast, c.AutoMob().Quadrant())
	a := u.Head()
	assert.Equal(t, action.KindMove, a.Kind)
	assert.True(t, a.UseKeyWhilePathing)
	assert.Equal(t, 200*time.Millisecond, a.DetectInterval)
	assert.True(t, bound.Quadrant(geom.NorthEast).Contains(geom.Pt(a.Position.X, a.Position.Y)))

	var visited []geom.Quadrant
	now := t0.Add(500 * time.Millisecond)
	for range 4 {
		now = now.Add(500 * time.Millisecond)
		c.Next(now, snap) // starts the empty window
		now = now.Add(500 * time.Millisecond)
		_, ok := c.Next(now, snap)
		require.True(t, ok)
		visited = append(visited, c.AutoMob().Quadrant())
	}
	assert.Equal(t, []geom.Quadrant{geom.SouthEast, geom.SouthWest, geom.NorthWest, geom.NorthEast}, visited)
}

func TestReset_RestartsAutoMobCursor(t *testing.T) {
	c := newAutoMob(t, rotation.AutoMobConfig{Bound: bound, Key: mobbing, GracePeriod: 500 * time.Millisecond}, random.NewSeeded(7))
	nw := at(50, 150)

	// Empty NW since t0, then NE after the grace period.
	c.Next(t0, nw)
	_, ok := c.Next(t0.Add(500*time.Millisecond), nw)
	require.True(t, ok)
	require.Equal(t, geom.NorthEast, c.AutoMob().Quadrant())
	c.Next(t0.Add(600*time.Millisecond), nw)

	c.Reset()
	// The cursor follows the player again and the empty window restarts.
	_, ok = c.Next(t0.Add(1200*time.Millisecond), at(150, 40))
	assert.False(t, ok)
	assert.Equal(t, geom.SouthEast, c.AutoMob().Quadrant())
	_, ok = c.Next(t0.Add(1600*time.Millisecond), at(150, 40))
	assert.False(t, ok)
	assert.Equal(t, geom.SouthEast, c.AutoMob().Quadrant())
}

func TestReset_TurnsSweeperRight(t *testing.T) {
	c := newPingPong(t, random.NewSeeded(8))
	c.Next(t0, at(199, 100))
	require.Equal(t, -1, c.Sweeper().Direction())

	c.Reset()
	assert.Equal(t, 1, c.Sweeper().Direction())
	u, ok := c.Next(t0, at(100, 100))
	require.True(t, ok)
	assert.Equal(t, 120, u.Head().Position.X)
}

func TestAutoMob_PlatformFiltering(t *testing.T) {
	g := pathing.NewGraph([]pathing.Platform{
		{XStart: 0, XEnd: 80, Y: 120},
		{XStart: 120, XEnd: 200, Y: 120},
	}, nil, pathing.DefaultThresholds())
	c := newAutoMob(t, rotation.AutoMobConfig{Bound: bound, Key: mobbing, Graph: g, GracePeriod: time.Second}, random.NewSeeded(4))

	// (90,120) lies in the gap between the platforms; (40,130) stands on the
	// left platform.
	c.Next(t0, at(20, 120))
	m := c.AutoMob()
	got := m.Candidates(geom.Pt(20, 120), []geom.Point{geom.Pt(90, 120), geom.Pt(40, 130), geom.Pt(60, 190)})
	assert.Equal(t, []geom.Point{geom.Pt(40, 120)}, got)
}

// TestProperty_QuadrantCursorClockwise verifies that the cursor only ever
// moves to the next quadrant clockwise, and only after the active quadrant
// stayed empty for the grace period.
func TestProperty_QuadrantCursorClockwise(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		grace := time.Duration(rapid.IntRange(0, 5).Draw(rt, "grace_ticks")) * 100 * time.Millisecond
		c, err := rotation.NewController(rotation.Config{
			Mode:    rotation.AutoMobbing,
			AutoMob: rotation.AutoMobConfig{Bound: bound, Key: mobbing, GracePeriod: grace},
		}, random.NewSeeded(rapid.Uint64().Draw(rt, "seed")), zap.NewNop())
		require.NoError(rt, err)
		m := c.AutoMob()

		player := geom.Pt(rapid.IntRange(0, 200).Draw(rt, "px"), rapid.IntRange(0, 200).Draw(rt, "py"))
		// The first snapshot places the cursor on the player's quadrant.
		_, ok := c.Next(t0, &perception.Snapshot{Player: &player, Mobs: []geom.Point{player}})
		require.True(rt, ok)
		require.Equal(rt, bound.QuadrantOf(player), m.Quadrant())

		now := t0
		var emptyStart time.Time
		for range rapid.IntRange(1, 80).Draw(rt, "ticks") {
			now = now.Add(100 * time.Millisecond)
			var mobs []geom.Point
			for range rapid.IntRange(0, 3).Draw(rt, "mobs") {
				mobs = append(mobs, geom.Pt(rapid.IntRange(0, 200).Draw(rt, "mx"), rapid.IntRange(0, 200).Draw(rt, "my")))
			}
			before := m.Quadrant()
			if len(m.Candidates(player, mobs)) > 0 {
				emptyStart = time.Time{}
			} else if emptyStart.IsZero() {
				emptyStart = now
			}
			c.Next(now, &perception.Snapshot{Player: &player, Mobs: mobs})
			if after := m.Quadrant(); after != before {
				if after != before.Next() {
					rt.Fatalf("cursor moved %s -> %s", before, after)
				}
				if emptyStart.IsZero() || now.Sub(emptyStart) < grace {
					rt.Fatalf("cursor advanced before the grace period")
				}
				emptyStart = time.Time{}
			}
		}
	})
}

func newPingPong(t *testing.T, src random.Source) *rotation.Controller {
	t.Helper()
	c, err := rotation.NewController(rotation.Config{
		Mode:     rotation.PingPong,
		PingPong: rotation.PingPongConfig{Bound: bound, Key: mobbing},
	}, src, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestPingPong_NoVerticalMovesAtMidpoint(t *testing.T) {
	c := newPingPong(t, random.NewSeeded(5))
	snap := at(100, 100)
	for i := range 50 {
		u, ok := c.Next(t0.Add(time.Duration(i)*33*time.Millisecond), snap)
		require.True(t, ok)
		require.NotNil(t, u.Head().Position)
		assert.Equal(t, 100, u.Head().Position.Y, "tick %d", i)
	}
	assert.Equal(t, 1, c.Sweeper().Direction())
}

func TestProperty_NoVerticalMovesWithinMidBand(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, err := rotation.NewController(rotation.Config{
			Mode:     rotation.PingPong,
			PingPong: rotation.PingPongConfig{Bound: bound, Key: mobbing},
		}, random.NewSeeded(rapid.Uint64().Draw(rt, "seed")), zap.NewNop())
		require.NoError(rt, err)
		x := rapid.IntRange(0, 200).Draw(rt, "x")
		y := rapid.IntRange(100-rotation.MidBand, 100+rotation.MidBand).Draw(rt, "y")
		u, ok := c.Next(t0, at(x, y))
		require.True(rt, ok)
		if u.Head().Position.Y != y {
			rt.Fatalf("vertical move from y=%d to %d", y, u.Head().Position.Y)
		}
	})
}

func TestPingPong_FlipsAtEdge(t *testing.T) {
	c := newPingPong(t, random.NewSeeded(6))
	u, _ := c.Next(t0, at(199, 100))
	assert.Equal(t, -1, c.Sweeper().Direction())
	assert.Equal(t, 179, u.Head().Position.X)

	u, _ = c.Next(t0, at(1, 100))
	assert.Equal(t, 1, c.Sweeper().Direction())
	assert.Equal(t, 21, u.Head().Position.X)
}

func TestPingPong_ReturnsIntoBound(t *testing.T) {
	c := newPingPong(t, random.NewSeeded(7))
	u, ok := c.Next(t0, at(250, 100))
	require.True(t, ok)
	a := u.Head()
	assert.Equal(t, action.KindMove, a.Kind)
	assert.Equal(t, geom.Pt(200, 100), geom.Pt(a.Position.X, a.Position.Y))
}

func TestPingPong_VerticalMoves(t *testing.T) {
	c := newPingPong(t, &random.Fixed{Values: []int{0}})
	u, _ := c.Next(t0, at(100, 20))
	assert.Equal(t, 30, u.Head().Position.Y)

	u, _ = c.Next(t0, at(100, 180))
	assert.Equal(t, 176, u.Head().Position.Y)
}
