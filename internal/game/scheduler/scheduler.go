// Package scheduler runs the engine tick: control commands, staleness, map
// changes, sighting notifications, priority arbitration, the rotation and the
// executor, in that order.
package scheduler

import (
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/navigation"
	"github.com/cory-johannsen/rotator/internal/game/notify"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/random"
	"github.com/cory-johannsen/rotator/internal/game/rotation"
)

const (
	// DefaultStaleAfter is the snapshot age tolerated before detection is
	// considered stale.
	DefaultStaleAfter = 500 * time.Millisecond
	// DefaultCommandBuffer is the capacity of the control command queue.
	DefaultCommandBuffer = 16
)

// Config tunes the scheduler.
type Config struct {
	StaleAfter time.Duration
	// ReturnToTownKey is pressed by Stop(true). Empty disables returning.
	ReturnToTownKey string
	// Actions maps a remote action kind to the key it presses.
	Actions       map[string]string
	CommandBuffer int
	// ResetNormalOnErda restarts the normal rotation and drops its unit
	// whenever an off_cooldown trigger is queued.
	ResetNormalOnErda bool
}

// Plan is what one map contributes to a run.
type Plan struct {
	Map      string
	Identity string
	Rotation rotation.Config
	// Planner routes moves across platforms; nil moves directly.
	Planner  executor.Planner
	Triggers []priority.Trigger
}

// PlanSource resolves the plan of the map recognised by a minimap identity.
type PlanSource interface {
	PlanFor(identity string) (Plan, bool)
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Executor *executor.Executor
	// Navigation is optional.
	Navigation *navigation.Controller
	Counters   priority.Counters
	Notifier   notify.Notifier
	// Plans is optional. When set, a map change switches to the plan of the
	// new map.
	Plans  PlanSource
	Source random.Source
}

type sightings struct {
	rune    bool
	elite   bool
	dead    bool
	players map[perception.Affiliation]bool
}

var affiliations = []perception.Affiliation{
	perception.AffiliationStranger,
	perception.AffiliationGuildmate,
	perception.AffiliationFriend,
}

// Scheduler owns the rotation state, the priority arbiter and the failure
// counters. Tick is called from a single goroutine; the control methods and
// Status are safe for concurrent use.
//
// Invariant: every scheduler-owned field except commands and status is only
// touched by Tick.
type Scheduler struct {
	cfg      Config
	exec     *executor.Executor
	nav      *navigation.Controller
	counters priority.Counters
	notifier notify.Notifier
	plans    PlanSource
	rot      *rotation.Controller
	arb      *priority.Arbiter
	logger   *zap.Logger

	commands chan command
	status   atomic.Pointer[Status]

	plan      Plan
	pending   *Plan
	state     State
	startedAt time.Time
	identity  string
	stale     bool
	lastFrame uint64
	seen      sightings
}

// New creates an idle Scheduler running plan.
//
// Precondition: deps.Executor, deps.Notifier, deps.Source and logger must be
// non-nil.
// Postcondition: Returns an idle Scheduler or the plan's validation error.
func New(cfg Config, plan Plan, deps Deps, logger *zap.Logger) (*Scheduler, error) {
	if deps.Executor == nil || deps.Notifier == nil || deps.Source == nil || logger == nil {
		panic("scheduler.New: executor, notifier, source and logger must be non-nil")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultCommandBuffer
	}
	rot, err := rotation.NewController(plan.Rotation, deps.Source, logger)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", plan.Map, err)
	}
	s := &Scheduler{
		cfg:      cfg,
		exec:     deps.Executor,
		nav:      deps.Navigation,
		counters: deps.Counters,
		notifier: deps.Notifier,
		plans:    deps.Plans,
		rot:      rot,
		logger:   logger,
		commands: make(chan command, cfg.CommandBuffer),
		plan:     plan,
		state:    Idle,
	}
	s.arb = priority.NewArbiter(s.triggers(plan), logger)
	s.exec.SetPlanner(plan.Planner)
	s.publish(time.Time{})
	return s, nil
}

func (s *Scheduler) triggers(p Plan) []priority.Trigger {
	out := append([]priority.Trigger(nil), p.Triggers...)
	if s.nav != nil {
		out = append(out, s.nav)
	}
	return out
}

// Status returns the status published by the last tick.
func (s *Scheduler) Status() Status {
	st := *s.status.Load()
	st.Queued = append([]string(nil), st.Queued...)
	return st
}

// Rotation exposes the rotation controller.
func (s *Scheduler) Rotation() *rotation.Controller { return s.rot }

// Tick advances the scheduler by one tick against snap and returns the input
// to synthesize.
//
// Postcondition: no linked chain is ever replaced before its last member
// completes, except by a map change.
func (s *Scheduler) Tick(now time.Time, snap *perception.Snapshot) input.Burst {
	out := s.drain(now)

	// Movement decisions pause while detection is stale.
	if err := s.fresh(now, snap); err != nil {
		out = append(out, s.exec.Freeze()...)
		out = append(out, s.exec.Flush(now)...)
		s.publish(now)
		return out
	}
	s.lastFrame = snap.Frame
	out = append(out, s.exec.Thaw()...)

	out = append(out, s.watchMap(now, snap)...)
	if s.state != Idle {
		s.observe(now, snap)
	}
	out = append(out, s.applyPending()...)
	out = append(out, s.dispatch(now, snap)...)
	out = append(out, s.update(now, snap)...)
	s.publish(now)
	return out
}

func (s *Scheduler) drain(now time.Time) input.Burst {
	var out input.Burst
	for {
		select {
		case c := <-s.commands:
			out = append(out, s.apply(now, c)...)
		default:
			return out
		}
	}
}

func (s *Scheduler) apply(now time.Time, c command) input.Burst {
	s.logger.Debug("control command", zap.String("command", string(c.kind)))
	switch c.kind {
	case cmdStart:
		if s.state == Running {
			return nil
		}
		if s.state == Idle {
			s.startedAt = now
			s.counters.Rearm()
			s.arb.Rearm()
			s.rot.Reset()
			s.seen = sightings{}
		}
		s.setState(Running)
	case cmdStop:
		if s.state == Idle && !c.returnToTown {
			return nil
		}
		out := s.halt()
		if c.returnToTown {
			s.returnToTown()
		}
		s.setState(Halting)
		return out
	case cmdSuspend:
		if s.state != Running {
			return nil
		}
		out := s.halt()
		s.setState(Suspended)
		return out
	case cmdAction:
		s.arb.Inject(c.unit)
	case cmdNavigate:
		if s.nav == nil {
			s.logger.Warn("navigation not configured", zap.String("target", c.target))
			return nil
		}
		if err := s.nav.Navigate(c.group, c.target); err != nil {
			s.logger.Warn("navigation rejected", zap.Error(err))
		}
	case cmdReconfigure:
		s.pending = c.plan
	}
	return nil
}

// halt aborts the executing unit unless it is a linked chain, which is left
// to reach its end.
func (s *Scheduler) halt() input.Burst {
	if s.exec.Locked() {
		return nil
	}
	busy := s.exec.Busy()
	out := s.exec.Abort(false)
	if busy {
		s.arb.Abandon()
	}
	return out
}

func (s *Scheduler) returnToTown() {
	if s.cfg.ReturnToTownKey == "" {
		s.logger.Warn("return to town requested without a bound key")
		return
	}
	s.arb.Inject(action.Single(action.Action{
		Name:      "return_to_town",
		Kind:      action.KindKey,
		Condition: action.ConditionAny,
		Origin:    action.OriginSystem,
		Task:      action.TaskReturnToTown,
		Key:       s.cfg.ReturnToTownKey,
		Count:     1,
	}))
}

func (s *Scheduler) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Info("scheduler state", zap.String("from", string(s.state)), zap.String("to", string(st)))
	s.state = st
}

// fresh checks the snapshot age. DetectionFailed is emitted once per stale
// period.
func (s *Scheduler) fresh(now time.Time, snap *perception.Snapshot) error {
	var err error
	switch {
	case snap == nil:
		err = fmt.Errorf("no snapshot: %w", ErrDetectionStale)
	case snap.Age(now) > s.cfg.StaleAfter:
		err = fmt.Errorf("snapshot %d is %s old: %w", snap.Frame, snap.Age(now), ErrDetectionStale)
	}
	if err == nil {
		if s.stale {
			s.stale = false
			s.logger.Info("detection recovered", zap.Uint64("frame", snap.Frame))
		}
		return nil
	}
	if !s.stale {
		s.stale = true
		s.logger.Warn("detection stale", zap.Error(err))
		if s.state != Idle {
			s.notifier.Notify(notify.New(notify.DetectionFailed, now, err.Error()))
		}
	}
	return err
}

// watchMap hard-aborts on a map change that no navigation explains.
func (s *Scheduler) watchMap(now time.Time, snap *perception.Snapshot) input.Burst {
	if snap.MinimapIdentity == "" || snap.MinimapConfidence < navigation.MinConfidence {
		return nil
	}
	prev := s.identity
	s.identity = snap.MinimapIdentity
	if prev == "" || prev == s.identity {
		return nil
	}
	s.logger.Info("map changed", zap.String("from", prev), zap.String("to", s.identity))
	s.notifier.Notify(notify.New(notify.MapChanged, now, s.identity))

	var out input.Burst
	if s.nav == nil || !s.nav.Active() {
		out = s.exec.Abort(true)
		s.arb.Reset()
		s.rot.Reset()
	}
	if s.plans != nil {
		if p, ok := s.plans.PlanFor(s.identity); ok && p.Map != s.plan.Map {
			s.pending = &p
		}
	}
	return out
}

func (s *Scheduler) observe(now time.Time, snap *perception.Snapshot) {
	edge := func(was *bool, is bool, kind notify.Kind, detail string) {
		if is && !*was {
			s.notifier.Notify(notify.New(kind, now, detail))
		}
		*was = is
	}
	edge(&s.seen.rune, snap.Rune != nil, notify.RuneSpawned, "")
	edge(&s.seen.elite, snap.EliteBoss, notify.EliteBossSpawned, "")
	edge(&s.seen.dead, snap.Dead, notify.PlayerDied, "")
	if s.seen.players == nil {
		s.seen.players = make(map[perception.Affiliation]bool, len(affiliations))
	}
	for _, a := range affiliations {
		was := s.seen.players[a]
		edge(&was, snap.PlayersSeen(a) > 0, notify.PlayerAffiliationSeen, string(a))
		s.seen.players[a] = was
	}
}

// applyPending swaps in a pending plan once no chain is in progress.
func (s *Scheduler) applyPending() input.Burst {
	p := s.pending
	if p == nil || s.exec.Locked() {
		return nil
	}
	s.pending = nil
	if err := s.rot.Reconfigure(p.Rotation); err != nil {
		s.logger.Warn("plan rejected", zap.String("map", p.Map), zap.Error(err))
		return nil
	}
	busy := s.exec.Busy()
	out := s.exec.Abort(false)
	if busy {
		s.arb.Abandon()
	}
	s.arb.SetTriggers(s.triggers(*p))
	s.exec.SetPlanner(p.Planner)
	s.plan = *p
	s.logger.Info("plan applied", zap.String("map", p.Map), zap.String("mode", string(p.Rotation.Mode)))
	return out
}

// dispatch picks the work of this tick: a priority or injected unit, the
// suspended normal unit, or the next rotation unit.
func (s *Scheduler) dispatch(now time.Time, snap *perception.Snapshot) input.Burst {
	var out input.Burst
	var d priority.Decision
	if s.state == Running {
		queued := s.arb.Poll(now, snap)
		if s.cfg.ResetNormalOnErda && slices.Contains(queued, priority.ClassErda) {
			out = append(out, s.resetNormal()...)
		}
		d = s.arb.Decide(now, snap, s.exec.Busy(), s.exec.Locked())
	} else {
		d = s.arb.NextInjected(s.exec.Busy(), s.exec.Locked())
	}
	busy := s.exec.Busy()

	fromArbiter := true
	switch d.Kind {
	case priority.Preempt:
		b, ok := s.exec.Suspend(now)
		if !ok {
			b = s.exec.Drop()
		}
		out = append(out, b...)
	case priority.Displace:
		out = append(out, s.exec.Drop()...)
	case priority.Wait:
		if busy {
			return out
		}
		if s.state != Running {
			if s.state == Halting {
				out = append(out, s.exec.Abort(false)...)
				s.setState(Idle)
				s.startedAt = time.Time{}
			}
			return out
		}
		if s.exec.Suspended() {
			return append(out, s.exec.Resume(now)...)
		}
		u, ok := s.rot.Next(now, snap)
		if !ok {
			return out
		}
		d = priority.Decision{Kind: priority.Dispatch, Unit: u}
		fromArbiter = false
	}
	if err := s.exec.Begin(d.Unit, now); err != nil {
		s.logger.Error("dispatch failed", zap.String("decision", string(d.Kind)), zap.Error(err))
		if fromArbiter {
			s.arb.Abandon()
		}
	}
	return out
}

// resetNormal restarts the normal rotation and drops its unit, whether
// suspended or executing. A locked unit is left to finish.
func (s *Scheduler) resetNormal() input.Burst {
	s.rot.Rewind()
	s.exec.Discard()
	s.logger.Info("normal rotation reset", zap.String("reason", string(priority.ClassErda)))
	if _, ok := s.arb.Running(); ok || !s.exec.Busy() || s.exec.Locked() {
		return nil
	}
	return s.exec.Drop()
}

// update advances the executor and reports a finished priority unit to the
// arbiter.
func (s *Scheduler) update(now time.Time, snap *perception.Snapshot) input.Burst {
	busy := s.exec.Busy()
	res, out, err := s.exec.Update(now, snap)
	if !busy || res == executor.InProgress {
		return out
	}
	if _, ok := s.arb.Running(); ok {
		if ferr := s.arb.Finished(now, err); ferr != nil {
			s.logger.Warn("behavior disabled", zap.Error(ferr))
			s.notifier.Notify(notify.New(notify.RetryLimitExceeded, now, ferr.Error()))
		}
	}
	return out
}

func (s *Scheduler) publish(now time.Time) {
	st := &Status{
		State:     s.state,
		Running:   s.state == Running || s.state == Halting,
		Suspended: s.state == Suspended,
		Map:       s.plan.Map,
		LastFrame: s.lastFrame,
		Stale:     s.stale,
		Queued:    s.arb.Queued(),
	}
	if a, _, ok := s.exec.Current(); ok {
		st.CurrentAction = a.Label()
	}
	if s.state != Idle && !s.startedAt.IsZero() {
		st.Uptime = now.Sub(s.startedAt)
	}
	s.status.Store(st)
}
