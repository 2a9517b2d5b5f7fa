package executor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/movement"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

const tick = 10 * time.Millisecond

var (
	t0   = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	keys = movement.Keys{Left: "left", Right: "right", Up: "up", Down: "down", Jump: "alt", Escape: "esc"}
	cfg  = executor.Config{
		LinkKeyDelay:   50 * time.Millisecond,
		LinkAlongDelay: 30 * time.Millisecond,
		TapHold:        30 * time.Millisecond,
		DetectInterval: 200 * time.Millisecond,
	}
)

func newExecutor(logger *zap.Logger) *executor.Executor {
	return executor.New(cfg, nil, func() *movement.Machine {
		return movement.NewMachine(movement.DefaultConfig(keys), random.NewSeeded(7), logger)
	}, random.NewSeeded(3), logger)
}

// world moves the player one pixel per tick while a direction key is held.
type world struct {
	pos   geom.Point
	held  map[string]bool
	buffs map[string]bool
}

func newWorld(x, y int) *world {
	return &world{pos: geom.Pt(x, y), held: map[string]bool{}, buffs: map[string]bool{}}
}

func (w *world) apply(b input.Burst) {
	for _, c := range b {
		switch c.Op {
		case input.OpKeyDown:
			w.held[c.Key] = true
		case input.OpKeyUp:
			delete(w.held, c.Key)
		}
	}
	if w.held["right"] {
		w.pos.X++
	}
	if w.held["left"] {
		w.pos.X--
	}
}

func (w *world) snap() *perception.Snapshot {
	p := w.pos
	return &perception.Snapshot{Player: &p, Buffs: w.buffs}
}

type run struct {
	bursts []input.Burst
	ticks  int
	now    time.Time
}

// drive updates e every tick until it leaves InProgress or limit ticks pass.
func drive(t testing.TB, e *executor.Executor, w *world, r *run, limit int) (executor.Result, error) {
	for i := 0; i < limit; i++ {
		res, b, err := e.Update(r.now, w.snap())
		r.bursts = append(r.bursts, b)
		w.apply(b)
		r.ticks++
		r.now = r.now.Add(tick)
		if res != executor.InProgress {
			return res, err
		}
	}
	t.Fatalf("executor still in progress after %d ticks", limit)
	return executor.InProgress, nil
}

func flatten(bursts []input.Burst) input.Burst {
	var out input.Burst
	for _, b := range bursts {
		out = append(out, b...)
	}
	return out
}

func indexOf(b input.Burst, op input.Op, key string) int {
	for i, c := range b {
		if c.Op == op && c.Key == key {
			return i
		}
	}
	return -1
}

func keyAction(key string) action.Action {
	return action.Action{Kind: action.KindKey, Key: key, Condition: action.ConditionAny, Origin: action.OriginUser}
}

func TestKey_CountAndWaits(t *testing.T) {
	e := newExecutor(zaptest.NewLogger(t))
	a := keyAction("a")
	a.Count = 3
	a.WaitAfter = 100 * time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	res, err := drive(t, e, newWorld(0, 0), r, 200)
	require.NoError(t, err)
	assert.Equal(t, executor.Completed, res)

	taps := 0
	for _, c := range flatten(r.bursts) {
		if c.Op == input.OpKeyTap && c.Key == "a" {
			taps++
		}
	}
	assert.Equal(t, 3, taps)
	assert.GreaterOrEqual(t, r.now.Sub(t0), 300*time.Millisecond)
	assert.False(t, e.Busy())
}

func TestKey_WaitBeforeDelaysPress(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.WaitBefore = 80 * time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	_, err := drive(t, e, newWorld(0, 0), r, 100)
	require.NoError(t, err)
	for i, b := range r.bursts {
		if b.Presses("a") {
			assert.GreaterOrEqual(t, i, 8)
			return
		}
	}
	t.Fatal("key never pressed")
}

func TestKey_HoldReleasesAfterDuration(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.HoldFor = 100 * time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	_, err := drive(t, e, newWorld(0, 0), r, 100)
	require.NoError(t, err)
	down, up := -1, -1
	for i, b := range r.bursts {
		if indexOf(b, input.OpKeyDown, "a") >= 0 {
			down = i
		}
		if indexOf(b, input.OpKeyUp, "a") >= 0 {
			up = i
		}
	}
	require.GreaterOrEqual(t, down, 0)
	assert.Equal(t, 10, up-down)
}

func TestLink_AtTheSameOrdersLinkFirst(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.LinkKey, a.LinkTiming = "shift", action.LinkAtTheSame
	require.NoError(t, e.Begin(action.Single(a), t0))

	_, b, err := e.Update(t0, newWorld(0, 0).snap())
	require.NoError(t, err)
	link, main := indexOf(b, input.OpKeyTap, "shift"), indexOf(b, input.OpKeyTap, "a")
	require.GreaterOrEqual(t, link, 0)
	assert.Equal(t, link+1, main)
}

func TestLink_BeforeIsSequentialAndLocked(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.LinkKey, a.LinkTiming = "shift", action.LinkBefore
	require.NoError(t, e.Begin(action.Single(a), t0))

	w := newWorld(0, 0)
	_, b, err := e.Update(t0, w.snap())
	require.NoError(t, err)
	assert.True(t, b.Presses("shift"))
	assert.False(t, b.Presses("a"))
	assert.True(t, e.Locked())

	now := t0
	for !b.Presses("a") {
		now = now.Add(tick)
		_, b, err = e.Update(now, w.snap())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, now.Sub(t0), cfg.LinkKeyDelay)
	assert.False(t, e.Locked())
}

func TestLink_AfterFollowsMainKey(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.LinkKey, a.LinkTiming = "shift", action.LinkAfter
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	_, err := drive(t, e, newWorld(0, 0), r, 100)
	require.NoError(t, err)
	flat := flatten(r.bursts)
	assert.Less(t, indexOf(flat, input.OpKeyTap, "a"), indexOf(flat, input.OpKeyTap, "shift"))
}

func TestLink_AlongHoldsLinkAcrossMainKey(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.LinkKey, a.LinkTiming = "shift", action.LinkAlong
	a.HoldFor = 60 * time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	_, err := drive(t, e, newWorld(0, 0), r, 100)
	require.NoError(t, err)
	flat := flatten(r.bursts)
	linkDown := indexOf(flat, input.OpKeyDown, "shift")
	mainDown := indexOf(flat, input.OpKeyDown, "a")
	mainUp := indexOf(flat, input.OpKeyUp, "a")
	linkUp := indexOf(flat, input.OpKeyUp, "shift")
	require.True(t, linkDown >= 0 && mainDown >= 0 && mainUp >= 0 && linkUp >= 0, "burst %s", flat)
	assert.True(t, linkDown < mainDown && mainDown < mainUp && mainUp < linkUp, "burst %s", flat)
}

func TestChain_RunsMembersInOrderWhileLocked(t *testing.T) {
	e := newExecutor(zap.NewNop())
	u := action.Chain(keyAction("a"), keyAction("b"), keyAction("c"))
	require.NoError(t, e.Begin(u, t0))

	w := newWorld(0, 0)
	now := t0
	var order []string
	for {
		cur, idx, ok := e.Current()
		require.True(t, ok)
		assert.True(t, e.Locked())
		assert.Equal(t, u.Members[idx].Key, cur.Key)

		res, b, err := e.Update(now, w.snap())
		require.NoError(t, err)
		for _, c := range b {
			if c.Op == input.OpKeyTap {
				order = append(order, c.Key)
			}
		}
		now = now.Add(tick)
		if res == executor.Completed {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.False(t, e.Locked())
	_, ok := e.Suspend(now)
	assert.False(t, ok)
}

func TestChain_CannotBeSuspended(t *testing.T) {
	e := newExecutor(zap.NewNop())
	require.NoError(t, e.Begin(action.Chain(keyAction("a"), keyAction("b")), t0))
	_, ok := e.Suspend(t0)
	assert.False(t, ok)
	assert.True(t, e.Busy())
}

func TestConfirm_FailsWithoutBuff(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("r")
	a.ConfirmBuff, a.ConfirmWithin = "rune", 200*time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	r := &run{now: t0}
	res, err := drive(t, e, newWorld(0, 0), r, 100)
	assert.Equal(t, executor.Failed, res)
	assert.True(t, errors.Is(err, executor.ErrActionCastUnconfirmed))
	assert.False(t, e.Busy())
}

func TestConfirm_CompletesWhenBuffSeen(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("r")
	a.ConfirmBuff, a.ConfirmWithin = "rune", 200*time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))

	w := newWorld(0, 0)
	w.buffs["rune"] = true
	r := &run{now: t0}
	res, err := drive(t, e, w, r, 100)
	require.NoError(t, err)
	assert.Equal(t, executor.Completed, res)
}

func TestBegin_RejectsWhileBusy(t *testing.T) {
	e := newExecutor(zap.NewNop())
	require.NoError(t, e.Begin(action.Single(keyAction("a")), t0))
	err := e.Begin(action.Single(keyAction("b")), t0)
	assert.True(t, errors.Is(err, executor.ErrBusy))
	assert.Error(t, e.Begin(action.Unit{}, t0))
}

func TestUninterruptible_HoldsUserKeyButNotSystemKey(t *testing.T) {
	for _, origin := range []action.Origin{action.OriginUser, action.OriginSystem} {
		t.Run(string(origin), func(t *testing.T) {
			e := newExecutor(zap.NewNop())
			a := keyAction("a")
			a.WaitAfter = 300 * time.Millisecond
			a.WaitAfterBuffered = action.BufferedUninterruptible
			require.NoError(t, e.Begin(action.Single(a), t0))

			w := newWorld(0, 0)
			r := &run{now: t0}
			res, err := drive(t, e, w, r, 10)
			require.NoError(t, err)
			require.Equal(t, executor.Completed, res)
			p, ok := e.PendingWait()
			require.True(t, ok)
			assert.Equal(t, action.BufferedUninterruptible, p.Mode)

			next := keyAction("b")
			next.Origin = origin
			assert.Equal(t, origin == action.OriginSystem, e.CanStart(next, r.now))
			require.NoError(t, e.Begin(action.Single(next), r.now))
			dispatched := r.now
			var pressedAt time.Time
			for i := 0; i < 100 && pressedAt.IsZero(); i++ {
				_, b, err := e.Update(r.now, w.snap())
				require.NoError(t, err)
				if b.Presses("b") {
					pressedAt = r.now
				}
				r.now = r.now.Add(tick)
			}
			require.False(t, pressedAt.IsZero())
			if origin == action.OriginSystem {
				assert.Equal(t, dispatched, pressedAt)
			} else {
				assert.False(t, pressedAt.Before(p.Deadline))
			}
		})
	}
}

// TestProperty_InterruptibleDropsPendingCompletion verifies that once a Key
// action begins during an interruptible buffered wait, nothing completing the
// earlier wait is emitted afterwards.
func TestProperty_InterruptibleDropsPendingCompletion(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hold := time.Duration(rapid.IntRange(5, 50).Draw(rt, "hold_ticks")) * tick
		wait := time.Duration(rapid.IntRange(0, 50).Draw(rt, "wait_ticks")) * tick
		e := newExecutor(zap.NewNop())
		a := keyAction("a")
		a.HoldFor = hold
		a.HoldBuffered = true
		a.WaitAfter = wait
		a.WaitAfterBuffered = action.BufferedInterruptible
		require.NoError(rt, e.Begin(action.Single(a), t0))

		w := newWorld(0, 0)
		now := t0
		var bursts []input.Burst
		step := func() executor.Result {
			res, b, err := e.Update(now, w.snap())
			require.NoError(rt, err)
			bursts = append(bursts, b)
			w.apply(b)
			now = now.Add(tick)
			return res
		}
		for step() == executor.InProgress {
		}
		p, ok := e.PendingWait()
		require.True(rt, ok)

		// Dispatch the next key strictly before the pending deadline.
		span := int(p.Deadline.Sub(now) / tick)
		if span > 0 {
			for range rapid.IntRange(0, span-1).Draw(rt, "idle_ticks") {
				step()
			}
		}
		require.True(rt, now.Before(p.Deadline))
		require.NoError(rt, e.Begin(action.Single(keyAction("b")), now))
		dispatch := len(bursts)
		for step() == executor.InProgress {
		}
		_, pending := e.PendingWait()
		assert.False(rt, pending)
		for now.Before(p.Deadline.Add(20 * tick)) {
			step()
		}

		ups := 0
		for i, b := range bursts {
			if idx := indexOf(b, input.OpKeyUp, "a"); idx >= 0 {
				ups++
				if i > dispatch {
					rt.Fatalf("key_up(a) emitted at burst %d after dispatch at %d", i, dispatch)
				}
				if i == dispatch {
					if press := indexOf(b, input.OpKeyTap, "b"); press >= 0 && press < idx {
						rt.Fatalf("key_up(a) after the new key in burst %s", b)
					}
				}
			}
		}
		assert.Equal(rt, 1, ups)
	})
}

func TestMove_ReachesTarget(t *testing.T) {
	e := newExecutor(zap.NewNop())
	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny, Position: &action.Position{X: 40, Y: 0}}
	require.NoError(t, e.Begin(action.Single(m), t0))

	w := newWorld(0, 0)
	r := &run{now: t0}
	res, err := drive(t, e, w, r, 200)
	require.NoError(t, err)
	assert.Equal(t, executor.Completed, res)
	assert.LessOrEqual(t, geom.Abs(w.pos.X-40), movement.AdjustTolerance)
	assert.Empty(t, w.held)
}

func TestMove_SuspendResumeKeepsSubState(t *testing.T) {
	e := newExecutor(zaptest.NewLogger(t))
	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny, Position: &action.Position{X: 100, Y: 0}}
	require.NoError(t, e.Begin(action.Single(m), t0))

	w := newWorld(0, 0)
	r := &run{now: t0}
	for range 20 {
		res, b, err := e.Update(r.now, w.snap())
		require.NoError(t, err)
		require.Equal(t, executor.InProgress, res)
		w.apply(b)
		r.now = r.now.Add(tick)
	}
	mover := e.Mover()
	require.Equal(t, movement.Walking, mover.Kind())
	plan := mover.Waypoints()
	index := mover.Index()

	b, ok := e.Suspend(r.now)
	require.True(t, ok)
	assert.Equal(t, input.Burst{input.KeyUp("right")}, b)
	w.apply(b)
	paused := w.pos

	solve := keyAction("r")
	solve.Origin = action.OriginSystem
	require.NoError(t, e.Begin(action.Single(solve), r.now))
	res, err := drive(t, e, w, r, 50)
	require.NoError(t, err)
	require.Equal(t, executor.Completed, res)
	assert.Equal(t, paused, w.pos)

	b = e.Resume(r.now)
	assert.Equal(t, input.Burst{input.KeyDown("right")}, b)
	w.apply(b)
	assert.Same(t, mover, e.Mover())
	assert.Equal(t, plan, e.Mover().Waypoints())
	assert.Equal(t, index, e.Mover().Index())
	assert.Equal(t, movement.Walking, e.Mover().Kind())

	res, err = drive(t, e, w, r, 300)
	require.NoError(t, err)
	assert.Equal(t, executor.Completed, res)
	assert.LessOrEqual(t, geom.Abs(w.pos.X-100), movement.AdjustTolerance)
}

func TestUseWith_DoubleJumpPrecedesKey(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.With = action.WithDoubleJump
	require.NoError(t, e.Begin(action.Single(a), t0))

	_, b, err := e.Update(t0, newWorld(10, 10).snap())
	require.NoError(t, err)
	jump, key := indexOf(b, input.OpKeyTap, "alt"), indexOf(b, input.OpKeyTap, "a")
	require.GreaterOrEqual(t, jump, 0)
	assert.Less(t, jump, key)
}

func TestDirection_TapsFacingKey(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.Direction = action.DirectionLeft
	require.NoError(t, e.Begin(action.Single(a), t0))

	_, b, err := e.Update(t0, newWorld(0, 0).snap())
	require.NoError(t, err)
	assert.Less(t, indexOf(b, input.OpKeyTap, "left"), indexOf(b, input.OpKeyTap, "a"))
}

func TestAbort_HardReleasesEverything(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.HoldFor = 500 * time.Millisecond
	require.NoError(t, e.Begin(action.Single(a), t0))
	_, b, err := e.Update(t0, newWorld(0, 0).snap())
	require.NoError(t, err)
	require.True(t, b.Presses("a"))

	b = e.Abort(true)
	assert.Contains(t, b, input.KeyUp("a"))
	assert.False(t, e.Busy())
	_, ok := e.PendingWait()
	assert.False(t, ok)
}

func TestDrop_KeepsSuspendedUnit(t *testing.T) {
	e := newExecutor(zap.NewNop())
	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny, Position: &action.Position{X: 100, Y: 0}}
	require.NoError(t, e.Begin(action.Single(m), t0))
	w := newWorld(0, 0)
	_, b, err := e.Update(t0, w.snap())
	require.NoError(t, err)
	w.apply(b)
	_, ok := e.Suspend(t0)
	require.True(t, ok)

	require.NoError(t, e.Begin(action.Single(keyAction("a")), t0))
	e.Drop()
	assert.False(t, e.Busy())
	assert.True(t, e.Suspended())
	assert.Equal(t, input.Burst{input.KeyDown("right")}, e.Resume(t0))
}

func TestUseWith_StationaryWaitsForStillSnapshot(t *testing.T) {
	e := newExecutor(zap.NewNop())
	a := keyAction("a")
	a.With = action.WithStationary
	require.NoError(t, e.Begin(action.Single(a), t0))

	w := newWorld(10, 0)
	_, b, err := e.Update(t0, w.snap())
	require.NoError(t, err)
	assert.False(t, b.Presses("a"), "a single observation does not show the player still")

	w.pos.X++
	_, b, err = e.Update(t0.Add(tick), w.snap())
	require.NoError(t, err)
	assert.False(t, b.Presses("a"), "the player is still sliding")

	_, b, err = e.Update(t0.Add(2*tick), w.snap())
	require.NoError(t, err)
	assert.True(t, b.Presses("a"))
}

func TestFreeze_ReleasesMovementUntilThaw(t *testing.T) {
	e := newExecutor(zaptest.NewLogger(t))
	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny, Position: &action.Position{X: 100, Y: 0}}
	require.NoError(t, e.Begin(action.Single(m), t0))

	w := newWorld(0, 0)
	r := &run{now: t0}
	for range 20 {
		_, b, err := e.Update(r.now, w.snap())
		require.NoError(t, err)
		w.apply(b)
		r.now = r.now.Add(tick)
	}
	require.Equal(t, movement.Walking, e.Mover().Kind())

	b := e.Freeze()
	assert.Equal(t, input.Burst{input.KeyUp("right")}, b)
	assert.True(t, e.Frozen())
	assert.Empty(t, e.Freeze())
	w.apply(b)
	assert.Empty(t, w.held)
	assert.Equal(t, movement.Walking, e.Mover().Kind(), "the movement state survives the freeze")

	b = e.Thaw()
	assert.Equal(t, input.Burst{input.KeyDown("right")}, b)
	assert.False(t, e.Frozen())
	assert.Empty(t, e.Thaw())
	w.apply(b)

	res, err := drive(t, e, w, r, 300)
	require.NoError(t, err)
	assert.Equal(t, executor.Completed, res)
	assert.LessOrEqual(t, geom.Abs(w.pos.X-100), movement.AdjustTolerance)
}

func TestDiscard_ForgetsSuspendedUnit(t *testing.T) {
	e := newExecutor(zaptest.NewLogger(t))
	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny, Position: &action.Position{X: 100, Y: 0}}
	require.NoError(t, e.Begin(action.Single(m), t0))
	w := newWorld(0, 0)
	for i := range 5 {
		_, b, err := e.Update(t0.Add(time.Duration(i)*tick), w.snap())
		require.NoError(t, err)
		w.apply(b)
	}
	_, ok := e.Suspend(t0.Add(5 * tick))
	require.True(t, ok)

	e.Discard()
	assert.False(t, e.Suspended())
	assert.False(t, e.Busy())
	assert.Empty(t, e.Resume(t0.Add(6*tick)))
}
