// Package executor runs one schedulable unit, a single action or a linked
// chain, to completion one tick at a time.
package executor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/movement"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

var (
	// ErrActionCastUnconfirmed reports a Key action whose expected buff was
	// not observed within its confirm window. The caller restarts the whole
	// unit from its first member.
	ErrActionCastUnconfirmed = errors.New("action cast unconfirmed")
	// ErrBusy reports Begin while a unit is already executing.
	ErrBusy = errors.New("executor busy")
)

// Result is the outcome of one Update.
type Result string

const (
	InProgress Result = "in_progress"
	Completed  Result = "completed"
	Failed     Result = "failed"
)

// Config holds character-level key timing.
type Config struct {
	// LinkKeyDelay separates the link key from the main key for Before and
	// After link timings.
	LinkKeyDelay time.Duration
	// LinkAlongDelay is how long the link key is held before the main key
	// for the Along link timing.
	LinkAlongDelay time.Duration
	// TapHold is the hold duration of a tapped key.
	TapHold time.Duration
	// DetectInterval is the default mob detection interval of actions that
	// use their key while pathing.
	DetectInterval time.Duration
}

// Planner routes a move across platforms.
type Planner interface {
	Path(from, to geom.Point, exact bool) ([]pathing.Waypoint, bool)
}

// Pending is the deadline of a buffered wait that outlives the action that
// started it.
type Pending struct {
	Action string
	Mode   action.BufferedWait
	// Deadline ends the wait.
	Deadline time.Time
	// Release lists keys still held by a buffered hold; they are released at
	// ReleaseAt, or immediately when the wait is interrupted.
	Release   []string
	ReleaseAt time.Time
}

type phase string

const (
	phaseGate       phase = "gate"
	phasePlan       phase = "plan"
	phaseMove       phase = "move"
	phaseDirection  phase = "direction"
	phaseWaitBefore phase = "wait_before"
	phaseUseWith    phase = "use_with"
	phaseLinkLead   phase = "link_lead"
	phasePress      phase = "press"
	phaseHold       phase = "hold"
	phaseLinkTrail  phase = "link_trail"
	phaseConfirm    phase = "confirm"
	phaseWaitAfter  phase = "wait_after"
	phaseDone       phase = "done"
)

// maxSteps bounds the phases advanced within one tick.
const maxSteps = 32

const (
	aheadX = 16
	aheadY = 8
)

// frame is the execution state of one unit.
type frame struct {
	unit   action.Unit
	member int
	phase  phase
	use    int
	mover  *movement.Machine

	// deadline is zero while the timed phase has not started.
	deadline  time.Time
	remaining time.Duration

	held       bool
	linkHeld   bool
	buffered   bool
	frozen     bool
	nextDetect time.Time

	// settledAt is the last observed position while waiting to be stationary.
	settledAt *geom.Point
}

func (f *frame) current() action.Action { return f.unit.Members[f.member] }

// Executor runs units against the latest perception snapshot.
//
// Invariant: at most one frame executes and at most one is suspended.
// Invariant: every key the executor presses is released by a later command,
// by Abort, or by the pending buffered wait that took ownership of it.
type Executor struct {
	cfg      Config
	planner  Planner
	newMover func() *movement.Machine
	src      random.Source
	logger   *zap.Logger

	cur       *frame
	suspended *frame
	pending   *Pending
	facing    int
}

// New creates an idle Executor. newMover builds the movement state machine of
// each dispatched unit; planner may be nil for direct movement.
//
// Precondition: newMover, src and logger must be non-nil.
func New(cfg Config, planner Planner, newMover func() *movement.Machine, src random.Source, logger *zap.Logger) *Executor {
	if newMover == nil || src == nil || logger == nil {
		panic("executor.New: newMover, src and logger must be non-nil")
	}
	return &Executor{cfg: cfg, planner: planner, newMover: newMover, src: src, logger: logger, facing: 1}
}

// SetPlanner replaces the platform planner used by subsequent moves.
func (e *Executor) SetPlanner(p Planner) { e.planner = p }

// Busy reports whether a unit is executing.
func (e *Executor) Busy() bool { return e.cur != nil }

// Suspended reports whether a preempted unit waits to be resumed.
func (e *Executor) Suspended() bool { return e.suspended != nil }

// Locked reports whether the running unit must not be preempted: a linked
// chain, or a single action in the middle of its link key sequence.
func (e *Executor) Locked() bool {
	f := e.cur
	if f == nil {
		return false
	}
	if f.unit.Linked() || f.linkHeld {
		return true
	}
	return f.phase == phaseLinkLead || f.phase == phaseLinkTrail
}

// Unit returns the executing unit.
func (e *Executor) Unit() (action.Unit, bool) {
	if e.cur == nil {
		return action.Unit{}, false
	}
	return e.cur.unit, true
}

// Current returns the executing member and its index within the unit.
func (e *Executor) Current() (action.Action, int, bool) {
	if e.cur == nil {
		return action.Action{}, 0, false
	}
	return e.cur.current(), e.cur.member, true
}

// Mover returns the movement state machine of the executing unit, or of the
// suspended unit when nothing executes.
func (e *Executor) Mover() *movement.Machine {
	switch {
	case e.cur != nil:
		return e.cur.mover
	case e.suspended != nil:
		return e.suspended.mover
	}
	return nil
}

// PendingWait returns the buffered wait still running, if any.
func (e *Executor) PendingWait() (Pending, bool) {
	if e.pending == nil {
		return Pending{}, false
	}
	p := *e.pending
	p.Release = append([]string(nil), p.Release...)
	return p, true
}

// CanStart reports whether a begins immediately. A user-authored Key action
// waits out an uninterruptible buffered wait; system actions never wait.
func (e *Executor) CanStart(a action.Action, now time.Time) bool {
	if a.Kind != action.KindKey || a.Origin == action.OriginSystem {
		return true
	}
	p := e.pending
	return p == nil || p.Mode != action.BufferedUninterruptible || !now.Before(p.Deadline)
}

// Begin starts executing u.
//
// Precondition: Busy() is false.
// Postcondition: Current() returns the first member of u.
func (e *Executor) Begin(u action.Unit, now time.Time) error {
	if u.Empty() {
		return errors.New("executor: empty unit")
	}
	if e.cur != nil {
		return fmt.Errorf("begin %s: %w", u.Head().Label(), ErrBusy)
	}
	m := e.newMover()
	m.SetFacing(e.facing)
	e.cur = &frame{unit: u, mover: m}
	e.start(e.cur)
	e.logger.Info("executing",
		zap.String("unit", u.ID),
		zap.String("action", u.Head().Label()),
		zap.Int("members", len(u.Members)),
	)
	return nil
}

func (e *Executor) start(f *frame) {
	f.use = 0
	f.deadline = time.Time{}
	f.buffered = false
	f.settledAt = nil
	if f.current().Kind == action.KindKey {
		f.phase = phaseGate
		return
	}
	f.phase = phasePlan
}

// Flush advances the pending buffered wait and returns the release commands
// that fell due.
func (e *Executor) Flush(now time.Time) input.Burst {
	p := e.pending
	if p == nil {
		return nil
	}
	var b input.Burst
	if len(p.Release) > 0 && !now.Before(p.ReleaseAt) {
		for _, k := range p.Release {
			b = append(b, input.KeyUp(k))
		}
		p.Release = nil
	}
	if !now.Before(p.Deadline) {
		e.logger.Debug("buffered wait elapsed", zap.String("action", p.Action), zap.String("mode", string(p.Mode)))
		e.pending = nil
	}
	return b
}

// Update advances the executing unit.
//
// Postcondition: Completed when the last member finished, Failed with the
// cause otherwise terminal, InProgress while work remains. The executor is
// idle after Completed or Failed.
func (e *Executor) Update(now time.Time, snap *perception.Snapshot) (Result, input.Burst, error) {
	out := e.Flush(now)
	f := e.cur
	if f == nil {
		return Completed, out, nil
	}
	if f.phase != phaseMove {
		if k := f.mover.Kind(); k != movement.Idle && k != movement.Walking {
			_, b, _ := f.mover.Update(snap)
			out = append(out, b...)
		}
	}

	for range maxSteps {
		b, cont, err := e.step(f, now, snap)
		out = append(out, b...)
		if err != nil {
			e.logger.Warn("action failed",
				zap.String("unit", f.unit.ID),
				zap.String("action", f.current().Label()),
				zap.Error(err),
			)
			out = append(out, e.release(f)...)
			e.cur = nil
			return Failed, out, err
		}
		if f.phase == phaseDone {
			if f.member+1 < len(f.unit.Members) {
				f.member++
				e.start(f)
				continue
			}
			e.facing = f.mover.Facing()
			e.cur = nil
			e.logger.Debug("unit completed", zap.String("unit", f.unit.ID), zap.String("action", f.unit.Head().Label()))
			return Completed, out, nil
		}
		if !cont {
			break
		}
	}
	return InProgress, out, nil
}

// step advances f by one phase. cont reports whether the next phase may run
// within the same tick.
func (e *Executor) step(f *frame, now time.Time, snap *perception.Snapshot) (b input.Burst, cont bool, err error) {
	a := f.current()
	switch f.phase {
	case phaseGate:
		if !e.CanStart(a, now) {
			return nil, false, nil
		}
		b = e.interrupt()
		f.phase = phaseDirection
		if a.Position != nil {
			f.phase = phasePlan
		}
		return b, true, nil

	case phasePlan:
		if snap == nil || snap.Player == nil {
			return nil, false, nil
		}
		p := a.Position
		target := geom.Pt(random.Spread(e.src, p.X, p.XRandomRange), p.Y)
		wps := []pathing.Waypoint{{Point: target, Hint: pathing.HintWalk, Exact: p.AllowAdjusting}}
		if e.planner != nil {
			wps, _ = e.planner.Path(*snap.Player, target, p.AllowAdjusting)
		}
		e.logger.Debug("move planned",
			zap.String("action", a.Label()),
			zap.Stringer("from", *snap.Player),
			zap.Stringer("to", target),
			zap.Int("waypoints", len(wps)),
		)
		f.phase = phaseMove
		return f.mover.Begin(wps), true, nil

	case phaseMove:
		status, mb, err := f.mover.Update(snap)
		if err != nil {
			return mb, false, fmt.Errorf("moving for %s: %w", a.Label(), err)
		}
		if status != movement.Arrived {
			return append(mb, e.useWhilePathing(f, a, now, snap)...), false, nil
		}
		if a.Kind == action.KindMove {
			return append(mb, e.enterWaitAfter(f, a, now)...), true, nil
		}
		f.phase = phaseDirection
		return mb, true, nil

	case phaseDirection:
		f.phase = phaseWaitBefore
		switch a.Direction {
		case action.DirectionLeft:
			return f.mover.Face(-1), true, nil
		case action.DirectionRight:
			return f.mover.Face(1), true, nil
		}
		return nil, true, nil

	case phaseWaitBefore:
		if f.deadline.IsZero() {
			f.deadline = now.Add(random.Jitter(e.src, a.WaitBefore, a.WaitBeforeJitter))
		}
		if now.Before(f.deadline) {
			return nil, false, nil
		}
		f.deadline = time.Time{}
		f.phase = phaseUseWith
		return nil, true, nil

	case phaseUseWith:
		next := phasePress
		if a.LinkTiming == action.LinkBefore || a.LinkTiming == action.LinkAlong {
			next = phaseLinkLead
		}
		switch a.With {
		case action.WithStationary:
			if f.mover.Walking() {
				b = f.mover.Stop()
			}
			if !stationary(f, snap) {
				return b, false, nil
			}
			f.settledAt = nil
			f.phase = next
			return b, true, nil
		case action.WithDoubleJump:
			if snap == nil || snap.Player == nil {
				return nil, false, nil
			}
			b = f.mover.Begin(nil)
			b = append(b, f.mover.ForceDoubleJump(*snap.Player)...)
			f.phase = next
			return b, true, nil
		default:
			f.phase = next
		}
		return nil, true, nil

	case phaseLinkLead:
		if f.deadline.IsZero() {
			if a.LinkTiming == action.LinkAlong {
				f.deadline = now.Add(e.cfg.LinkAlongDelay)
				f.linkHeld = true
				return input.Burst{input.KeyDown(a.LinkKey)}, e.cfg.LinkAlongDelay <= 0, nil
			}
			f.deadline = now.Add(e.cfg.LinkKeyDelay)
			return input.Burst{e.tap(a.LinkKey)}, e.cfg.LinkKeyDelay <= 0, nil
		}
		if now.Before(f.deadline) {
			return nil, false, nil
		}
		f.deadline = time.Time{}
		f.phase = phasePress
		return nil, true, nil

	case phasePress:
		return e.press(f, a, now), false, nil

	case phaseHold:
		if !f.buffered && now.Before(f.deadline) {
			return nil, false, nil
		}
		if f.held {
			b = append(b, input.KeyUp(a.Key))
			f.held = false
		}
		if f.linkHeld {
			b = append(b, input.KeyUp(a.LinkKey))
			f.linkHeld = false
		}
		f.deadline = time.Time{}
		if a.LinkTiming == action.LinkAfter {
			f.phase = phaseLinkTrail
			return b, true, nil
		}
		return append(b, e.afterUse(f, a, now)...), true, nil

	case phaseLinkTrail:
		if f.deadline.IsZero() {
			f.deadline = now.Add(e.cfg.LinkKeyDelay)
		}
		if now.Before(f.deadline) {
			return nil, false, nil
		}
		f.deadline = time.Time{}
		b = input.Burst{e.tap(a.LinkKey)}
		return append(b, e.afterUse(f, a, now)...), false, nil

	case phaseConfirm:
		if f.deadline.IsZero() {
			f.deadline = now.Add(a.ConfirmWithin)
		}
		if snap.HasBuff(a.ConfirmBuff) {
			f.deadline = time.Time{}
			return e.enterWaitAfter(f, a, now), true, nil
		}
		if !now.Before(f.deadline) {
			return nil, false, fmt.Errorf("action %s: buff %q not observed within %s: %w",
				a.Label(), a.ConfirmBuff, a.ConfirmWithin, ErrActionCastUnconfirmed)
		}
		return nil, false, nil

	case phaseWaitAfter:
		if now.Before(f.deadline) {
			return nil, false, nil
		}
		f.deadline = time.Time{}
		f.use++
		if f.use >= a.Uses() {
			f.phase = phaseDone
		} else {
			f.phase = phaseWaitBefore
		}
		return nil, true, nil
	}
	return nil, false, nil
}

// stationary reports whether the player was seen at the same position on two
// consecutive snapshots.
func stationary(f *frame, snap *perception.Snapshot) bool {
	if snap == nil || snap.Player == nil {
		return false
	}
	if f.settledAt != nil && *f.settledAt == *snap.Player {
		return true
	}
	p := *snap.Player
	f.settledAt = &p
	return false
}

// press issues one use of the main key.
func (e *Executor) press(f *frame, a action.Action, now time.Time) input.Burst {
	var b input.Burst
	if a.LinkTiming == action.LinkAtTheSame {
		b = append(b, e.tap(a.LinkKey))
	}
	f.phase = phaseHold
	if a.HoldFor <= 0 {
		f.deadline = now
		return append(b, e.tap(a.Key))
	}
	b = append(b, input.KeyDown(a.Key))
	f.held = true
	f.deadline = now.Add(a.HoldFor)

	if a.HoldBuffered && f.use == a.Uses()-1 {
		// The pending wait takes over the held keys.
		release := []string{a.Key}
		if f.linkHeld {
			release = append(release, a.LinkKey)
		}
		mode := bufferedMode(a)
		if mode == action.BufferedNone {
			mode = action.BufferedInterruptible
		}
		wait := random.Jitter(e.src, a.WaitAfter, a.WaitAfterJitter)
		b = append(b, e.setPending(Pending{
			Action:    a.Label(),
			Mode:      mode,
			Deadline:  f.deadline.Add(wait),
			Release:   release,
			ReleaseAt: f.deadline,
		})...)
		f.held, f.linkHeld, f.buffered = false, false, true
	}
	return b
}

func (e *Executor) afterUse(f *frame, a action.Action, now time.Time) input.Burst {
	if f.use == a.Uses()-1 && a.ConfirmBuff != "" {
		f.phase = phaseConfirm
		return nil
	}
	return e.enterWaitAfter(f, a, now)
}

// enterWaitAfter starts the wait after one use. The final wait of a buffered
// Key action becomes a pending wait and the action completes at once.
func (e *Executor) enterWaitAfter(f *frame, a action.Action, now time.Time) input.Burst {
	last := f.use >= a.Uses()-1
	if last && f.buffered {
		f.phase = phaseDone
		return nil
	}
	wait := random.Jitter(e.src, a.WaitAfter, a.WaitAfterJitter)
	if last && a.Kind == action.KindKey && bufferedMode(a) != action.BufferedNone {
		f.phase = phaseDone
		return e.setPending(Pending{Action: a.Label(), Mode: bufferedMode(a), Deadline: now.Add(wait)})
	}
	f.deadline = now.Add(wait)
	f.phase = phaseWaitAfter
	return nil
}

func bufferedMode(a action.Action) action.BufferedWait {
	switch a.WaitAfterBuffered {
	case action.BufferedInterruptible, action.BufferedUninterruptible:
		return a.WaitAfterBuffered
	}
	return action.BufferedNone
}

// setPending replaces the pending wait, releasing keys the previous one held.
func (e *Executor) setPending(p Pending) input.Burst {
	b := e.releasePending()
	e.pending = &p
	e.logger.Debug("buffered wait started",
		zap.String("action", p.Action),
		zap.String("mode", string(p.Mode)),
		zap.Time("deadline", p.Deadline),
	)
	return b
}

func (e *Executor) releasePending() input.Burst {
	p := e.pending
	if p == nil {
		return nil
	}
	var b input.Burst
	for _, k := range p.Release {
		b = append(b, input.KeyUp(k))
	}
	e.pending = nil
	return b
}

// interrupt drops an interruptible pending wait in favor of a starting Key
// action. Keys the wait still held are released before anything else.
func (e *Executor) interrupt() input.Burst {
	if e.pending == nil || e.pending.Mode != action.BufferedInterruptible {
		return nil
	}
	e.logger.Debug("buffered wait interrupted", zap.String("action", e.pending.Action))
	return e.releasePending()
}

func (e *Executor) useWhilePathing(f *frame, a action.Action, now time.Time, snap *perception.Snapshot) input.Burst {
	if !a.UseKeyWhilePathing || a.Key == "" || snap == nil || snap.Player == nil || now.Before(f.nextDetect) {
		return nil
	}
	interval := a.DetectInterval
	if interval <= 0 {
		interval = e.cfg.DetectInterval
	}
	f.nextDetect = now.Add(interval)
	if !mobAhead(*snap.Player, snap.Mobs, f.mover.Facing()) {
		return nil
	}
	return input.Burst{e.tap(a.Key)}
}

// mobAhead reports whether a mob is within reach in the facing direction.
func mobAhead(pos geom.Point, mobs []geom.Point, facing int) bool {
	for _, m := range mobs {
		d := m.Sub(pos)
		if geom.Abs(d.X) <= aheadX && geom.Abs(d.Y) <= aheadY && geom.Sign(d.X) != -facing {
			return true
		}
	}
	return false
}

// Suspend parks the executing unit so a priority unit can run. Only a single,
// unlocked unit can be suspended; its movement sub-state, phase and the
// remaining part of any running wait are preserved.
//
// Postcondition: ok is false and nothing changes when the unit cannot be
// suspended.
func (e *Executor) Suspend(now time.Time) (b input.Burst, ok bool) {
	f := e.cur
	if f == nil || e.suspended != nil || e.Locked() {
		return nil, false
	}
	b = f.mover.Suspend()
	f.frozen = false
	if f.held {
		// The interrupted use is pressed again on resume.
		b = append(b, input.KeyUp(f.current().Key))
		f.held = false
		f.phase = phasePress
		f.deadline = time.Time{}
	}
	if !f.deadline.IsZero() {
		f.remaining = max(f.deadline.Sub(now), 0)
	}
	e.facing = f.mover.Facing()
	e.suspended, e.cur = f, nil
	e.logger.Info("unit suspended",
		zap.String("unit", f.unit.ID),
		zap.String("action", f.current().Label()),
		zap.String("phase", string(f.phase)),
		zap.String("movement", string(f.mover.Kind())),
	)
	return b, true
}

// Freeze releases the movement keys of the executing unit and keeps its
// movement state. It is idempotent; Thaw undoes it.
func (e *Executor) Freeze() input.Burst {
	f := e.cur
	if f == nil || f.frozen {
		return nil
	}
	f.frozen = true
	e.logger.Info("movement frozen",
		zap.String("unit", f.unit.ID),
		zap.String("movement", string(f.mover.Kind())),
	)
	return f.mover.Suspend()
}

// Thaw re-presses the movement keys released by Freeze.
func (e *Executor) Thaw() input.Burst {
	f := e.cur
	if f == nil || !f.frozen {
		return nil
	}
	f.frozen = false
	e.logger.Info("movement thawed", zap.String("unit", f.unit.ID))
	return f.mover.Resume()
}

// Frozen reports whether the executing unit's movement keys are released.
func (e *Executor) Frozen() bool { return e.cur != nil && e.cur.frozen }

// Resume continues the suspended unit where it left off.
//
// Precondition: Busy() is false.
func (e *Executor) Resume(now time.Time) input.Burst {
	f := e.suspended
	if f == nil || e.cur != nil {
		return nil
	}
	if !f.deadline.IsZero() {
		f.deadline = now.Add(f.remaining)
	}
	f.remaining = 0
	f.mover.SetFacing(e.facing)
	e.suspended, e.cur = nil, f
	e.logger.Info("unit resumed",
		zap.String("unit", f.unit.ID),
		zap.String("action", f.current().Label()),
		zap.Int("waypoint", f.mover.Index()),
	)
	return f.mover.Resume()
}

// Drop stops the executing unit and keeps the suspended one.
func (e *Executor) Drop() input.Burst {
	f := e.cur
	if f == nil {
		return nil
	}
	e.cur = nil
	e.facing = f.mover.Facing()
	e.logger.Info("unit dropped", zap.String("unit", f.unit.ID), zap.String("action", f.current().Label()))
	return e.release(f)
}

// Discard forgets the suspended unit. Its keys were released by Suspend.
func (e *Executor) Discard() {
	if f := e.suspended; f != nil {
		e.logger.Info("suspended unit discarded", zap.String("unit", f.unit.ID))
	}
	e.suspended = nil
}

// Abort stops the executing unit and discards the suspended one. A hard abort
// also ends the pending buffered wait.
//
// Postcondition: Busy() and Suspended() are false.
func (e *Executor) Abort(hard bool) input.Burst {
	var b input.Burst
	if f := e.cur; f != nil {
		b = append(b, e.release(f)...)
		e.logger.Info("unit aborted", zap.String("unit", f.unit.ID), zap.Bool("hard", hard))
	}
	e.cur, e.suspended = nil, nil
	if hard {
		b = append(b, e.releasePending()...)
	}
	return b
}

func (e *Executor) release(f *frame) input.Burst {
	b := f.mover.Stop()
	a := f.current()
	if f.held {
		b = append(b, input.KeyUp(a.Key))
		f.held = false
	}
	if f.linkHeld {
		b = append(b, input.KeyUp(a.LinkKey))
		f.linkHeld = false
	}
	return b
}

func (e *Executor) tap(key string) input.Command {
	return input.Tap(key, e.cfg.TapHold)
}
