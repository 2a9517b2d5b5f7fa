// Package priority decides, each tick, whether a ready priority trigger
// preempts the normal rotation.
package priority

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/perception"
)

// Rank orders ready triggers. A higher rank is dispatched first.
type Rank int

const (
	RankPeriodic Rank = iota
	RankCooldown
	RankNavigation
	RankPanic
)

func (r Rank) String() string {
	switch r {
	case RankPeriodic:
		return "periodic"
	case RankCooldown:
		return "cooldown"
	case RankNavigation:
		return "navigation"
	case RankPanic:
		return "panic"
	default:
		return fmt.Sprintf("Rank(%d)", int(r))
	}
}

// Trigger is one source of priority work.
type Trigger interface {
	Name() string
	Rank() Rank
	// QueueToFront lets the trigger jump the queue and displace a running
	// priority unit that lacks the flag.
	QueueToFront() bool
	// Ready reports whether the trigger wants to run. It is not consulted
	// while the trigger is queued or running.
	Ready(now time.Time, snap *perception.Snapshot) bool
	// Unit builds the work to dispatch. ok is false when the trigger no
	// longer applies; it is then dropped from the queue.
	Unit(now time.Time, snap *perception.Snapshot) (u action.Unit, ok bool)
	// Done reports the outcome of a dispatched unit. A non-nil return
	// wraps retry.ErrRetryLimitExceeded when a failure counter tripped.
	Done(now time.Time, err error) error
}

// Class groups triggers of which at most one is queued or running at a time.
type Class string

const (
	ClassNone Class = ""
	// ClassErda holds the off_cooldown actions.
	ClassErda    Class = "erda"
	ClassBooster Class = "booster"
)

// Classed is implemented by triggers that belong to a Class.
type Classed interface {
	Class() Class
}

func classOf(t Trigger) Class {
	if c, ok := t.(Classed); ok {
		return c.Class()
	}
	return ClassNone
}

// DecisionKind tells the scheduler what to do with the executor.
type DecisionKind string

const (
	// Wait leaves the executor alone.
	Wait DecisionKind = ""
	// Dispatch starts the unit on an idle executor.
	Dispatch DecisionKind = "dispatch"
	// Preempt suspends the running normal unit and starts the priority unit.
	Preempt DecisionKind = "preempt"
	// Displace aborts the running priority unit, whose trigger goes back to
	// the front of the queue, and starts the queue-to-front unit.
	Displace DecisionKind = "displace"
)

// Decision is the outcome of one arbitration.
type Decision struct {
	Kind    DecisionKind
	Unit    action.Unit
	Trigger string
}

type entry struct {
	trigger Trigger
	unit    action.Unit
	name    string
	qtf     bool
	rank    Rank
	class   Class
}

// Arbiter owns the priority triggers, their ready queue and the injected
// side queue.
//
// Invariant: a trigger is at most once in the queue and is never queued
// while it runs.
// Invariant: a locked executor is never preempted.
type Arbiter struct {
	triggers []Trigger
	queue    []*entry
	side     []*entry
	running  *entry
	logger   *zap.Logger
}

// NewArbiter creates an Arbiter over triggers.
//
// Precondition: logger must be non-nil.
func NewArbiter(triggers []Trigger, logger *zap.Logger) *Arbiter {
	if logger == nil {
		panic("priority.NewArbiter: logger must be non-nil")
	}
	return &Arbiter{triggers: append([]Trigger(nil), triggers...), logger: logger}
}

// SetTriggers replaces the trigger set and clears the queue. The running
// unit, if any, keeps running.
func (a *Arbiter) SetTriggers(triggers []Trigger) {
	a.triggers = append([]Trigger(nil), triggers...)
	a.queue = nil
}

// Inject queues u on the side queue, served before any trigger.
func (a *Arbiter) Inject(u action.Unit) {
	if u.Empty() {
		return
	}
	a.side = append(a.side, &entry{unit: u, name: u.Head().Label(), rank: RankPanic})
}

// Queued returns the names of queued triggers in queue order.
func (a *Arbiter) Queued() []string {
	out := make([]string, len(a.queue))
	for i, e := range a.queue {
		out[i] = e.name
	}
	return out
}

// Running returns the name of the dispatched priority unit.
func (a *Arbiter) Running() (string, bool) {
	if a.running == nil {
		return "", false
	}
	return a.running.name, true
}

// Poll queues every ready trigger that is neither queued nor running and
// returns the classes of the triggers it queued. A classed trigger is not
// consulted while another trigger of its class is queued or running.
// Queue-to-front triggers go to the front of the queue.
func (a *Arbiter) Poll(now time.Time, snap *perception.Snapshot) []Class {
	var queued []Class
	for _, t := range a.triggers {
		if a.tracked(t) {
			continue
		}
		class := classOf(t)
		if class != ClassNone && a.holds(class) {
			continue
		}
		if !t.Ready(now, snap) {
			continue
		}
		e := &entry{trigger: t, name: t.Name(), qtf: t.QueueToFront(), rank: t.Rank(), class: class}
		if e.qtf {
			a.queue = append([]*entry{e}, a.queue...)
		} else {
			a.queue = append(a.queue, e)
		}
		if class != ClassNone {
			queued = append(queued, class)
		}
		a.logger.Debug("trigger ready",
			zap.String("trigger", e.name),
			zap.Stringer("rank", e.rank),
			zap.Bool("queue_to_front", e.qtf),
		)
	}
	return queued
}

// holds reports whether a trigger of class is queued or running.
func (a *Arbiter) holds(class Class) bool {
	if a.running != nil && a.running.class == class {
		return true
	}
	for _, e := range a.queue {
		if e.class == class {
			return true
		}
	}
	return false
}

func (a *Arbiter) tracked(t Trigger) bool {
	if a.running != nil && a.running.trigger == t {
		return true
	}
	for _, e := range a.queue {
		if e.trigger == t {
			return true
		}
	}
	return false
}

// Next polls the triggers and arbitrates against the executor state.
//
// Postcondition: Kind is Wait whenever locked is true.
func (a *Arbiter) Next(now time.Time, snap *perception.Snapshot, busy, locked bool) Decision {
	a.Poll(now, snap)
	return a.Decide(now, snap, busy, locked)
}

// Decide arbitrates the queue against the executor state without polling.
//
// Postcondition: Kind is Wait whenever locked is true.
func (a *Arbiter) Decide(now time.Time, snap *perception.Snapshot, busy, locked bool) Decision {
	if locked {
		return Decision{}
	}
	if busy && a.running != nil {
		return a.displace(now, snap)
	}
	if d, ok := a.nextSide(busy); ok {
		return d
	}
	for {
		e := a.best()
		if e == nil {
			return Decision{}
		}
		a.remove(e)
		u, ok := e.trigger.Unit(now, snap)
		if !ok {
			a.logger.Debug("trigger dropped", zap.String("trigger", e.name))
			continue
		}
		a.running = e
		kind := Dispatch
		if busy {
			kind = Preempt
		}
		a.logger.Info("priority dispatch",
			zap.String("trigger", e.name),
			zap.Stringer("rank", e.rank),
			zap.String("decision", string(kind)),
		)
		return Decision{Kind: kind, Unit: u, Trigger: e.name}
	}
}

// NextInjected serves only the side queue. The scheduler uses it while the
// rotation is suspended.
func (a *Arbiter) NextInjected(busy, locked bool) Decision {
	if locked || (busy && a.running != nil) {
		return Decision{}
	}
	d, _ := a.nextSide(busy)
	return d
}

func (a *Arbiter) nextSide(busy bool) (Decision, bool) {
	if len(a.side) == 0 {
		return Decision{}, false
	}
	e := a.side[0]
	a.side = a.side[1:]
	a.running = e
	kind := Dispatch
	if busy {
		kind = Preempt
	}
	a.logger.Info("injected dispatch", zap.String("action", e.name), zap.String("decision", string(kind)))
	return Decision{Kind: kind, Unit: e.unit, Trigger: e.name}, true
}

// displace lets a queued queue-to-front trigger replace a running priority
// unit that lacks the flag.
func (a *Arbiter) displace(now time.Time, snap *perception.Snapshot) Decision {
	if a.running.qtf || a.running.trigger == nil {
		return Decision{}
	}
	var cand *entry
	for _, e := range a.queue {
		if e.qtf {
			cand = e
			break
		}
	}
	if cand == nil {
		return Decision{}
	}
	a.remove(cand)
	u, ok := cand.trigger.Unit(now, snap)
	if !ok {
		return Decision{}
	}
	displaced := a.running
	a.queue = append([]*entry{displaced}, a.queue...)
	a.running = cand
	a.logger.Info("priority displaced",
		zap.String("trigger", cand.name),
		zap.String("displaced", displaced.name),
	)
	return Decision{Kind: Displace, Unit: u, Trigger: cand.name}
}

// best returns the highest ranked queued entry, the earliest queued on ties.
func (a *Arbiter) best() *entry {
	var best *entry
	for _, e := range a.queue {
		if best == nil || e.rank > best.rank {
			best = e
		}
	}
	return best
}

func (a *Arbiter) remove(target *entry) {
	for i, e := range a.queue {
		if e == target {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return
		}
	}
}

// Finished reports the outcome of the running priority unit.
func (a *Arbiter) Finished(now time.Time, err error) error {
	e := a.running
	if e == nil {
		return nil
	}
	a.running = nil
	if e.trigger == nil {
		return nil
	}
	return e.trigger.Done(now, err)
}

// Abandon forgets the running unit without reporting an outcome. The queue is
// kept.
func (a *Arbiter) Abandon() {
	if a.running != nil {
		a.logger.Debug("priority abandoned", zap.String("trigger", a.running.name))
	}
	a.running = nil
}

// Rearmer is implemented by triggers that own their Failure Counter.
type Rearmer interface {
	Rearm()
}

// Rearm re-enables every trigger disabled by its own Failure Counter. Counters
// shared through Counters are re-armed by their owner.
func (a *Arbiter) Rearm() {
	for _, t := range a.triggers {
		if r, ok := t.(Rearmer); ok {
			r.Rearm()
		}
	}
}

// Reset forgets the queue, the side queue and the running unit.
func (a *Arbiter) Reset() {
	a.queue, a.side, a.running = nil, nil, nil
}
