// Package action defines the authored Action model, its validation rules and
// the grouping of linked actions into schedulable units.
package action

import (
	"errors"
	"fmt"
	"time"
)

// ErrCapabilityMissing reports an action that depends on a key binding or
// capability the character does not have. It is raised while loading
// configuration, never during a run.
var ErrCapabilityMissing = errors.New("capability missing")

// Kind discriminates Move and Key actions.
type Kind string

const (
	KindMove Kind = "move"
	KindKey  Kind = "key"
)

// Condition decides whether an action belongs to the normal rotation or is a
// priority trigger, and how a priority trigger becomes ready.
type Condition string

const (
	// ConditionAny places the action in the normal rotation.
	ConditionAny Condition = "any"
	// ConditionEveryMillis readies the action on a fixed interval.
	ConditionEveryMillis Condition = "every_millis"
	// ConditionOffCooldown readies the action when its skill is detected ready.
	ConditionOffCooldown Condition = "off_cooldown"
	// ConditionScript readies the action when a Lua hook returns true.
	ConditionScript Condition = "script"
	// ConditionLinked chains the action to the nearest preceding non-linked action.
	ConditionLinked Condition = "linked"
)

// LinkTiming orders a link key relative to the main key.
type LinkTiming string

const (
	LinkNone      LinkTiming = ""
	LinkBefore    LinkTiming = "before"
	LinkAtTheSame LinkTiming = "at_the_same"
	LinkAfter     LinkTiming = "after"
	LinkAlong     LinkTiming = "along"
)

// Direction is the facing a Key action requires before the key is used.
type Direction string

const (
	DirectionAny   Direction = "any"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// UseWith constrains the motion the player must be in when the key is used.
type UseWith string

const (
	WithAny        UseWith = "any"
	WithStationary UseWith = "stationary"
	WithDoubleJump UseWith = "double_jump"
)

// BufferedWait selects how the final wait-after of a Key action overlaps the
// next dispatch.
type BufferedWait string

const (
	BufferedNone            BufferedWait = "none"
	BufferedInterruptible   BufferedWait = "interruptible"
	BufferedUninterruptible BufferedWait = "uninterruptible"
)

// Origin records who authored an action. System actions are exempt from the
// uninterruptible buffered wait of user actions.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginSystem Origin = "system"
)

// Task tags built-in system actions so completion can be fed back to the
// component that issued them.
type Task string

const (
	TaskNone             Task = ""
	TaskSolveRune        Task = "solve_rune"
	TaskChangeChannel    Task = "change_channel"
	TaskUseBooster       Task = "use_booster"
	TaskSwapFamiliar     Task = "swap_familiar"
	TaskReplenishEssence Task = "replenish_essence"
	TaskReturnToTown     Task = "return_to_town"
	TaskPortal           Task = "portal"
	TaskBuff             Task = "buff"
	TaskMobbing          Task = "mobbing"
	TaskUnstuck          Task = "unstuck"
)

// Position is a movement target. X is randomized within ±XRandomRange each
// time the action starts.
type Position struct {
	X              int
	XRandomRange   int
	Y              int
	AllowAdjusting bool
}

// Action is one authored step of a rotation.
//
// Invariant: Kind == KindMove implies Position != nil.
// Invariant: Kind == KindKey implies Key != "".
type Action struct {
	Name      string
	Kind      Kind
	Condition Condition
	Origin    Origin
	Task      Task

	Position *Position

	Key          string
	Count        int
	HoldFor      time.Duration
	HoldBuffered bool
	LinkKey      string
	LinkTiming   LinkTiming
	Direction    Direction
	With         UseWith

	WaitBefore        time.Duration
	WaitBeforeJitter  time.Duration
	WaitAfter         time.Duration
	WaitAfterJitter   time.Duration
	WaitAfterBuffered BufferedWait

	// Every is the interval of a ConditionEveryMillis trigger.
	Every time.Duration
	// Skill names the readiness flag of a ConditionOffCooldown trigger.
	Skill string
	// Script names the Lua hook of a ConditionScript trigger.
	Script string
	// QueueToFront lets a priority trigger jump the queue and displace a
	// running priority action that lacks the flag.
	QueueToFront bool

	// ConfirmBuff, when set, is the buff the last use must produce within
	// ConfirmWithin or the action fails as unconfirmed.
	ConfirmBuff   string
	ConfirmWithin time.Duration

	// UseKeyWhilePathing fires Key while travelling to Position whenever a mob
	// is detected ahead, at most once per DetectInterval.
	UseKeyWhilePathing bool
	DetectInterval     time.Duration
}

// Uses returns the normalized use count.
//
// Postcondition: Returns a value >= 1.
func (a Action) Uses() int {
	if a.Count < 1 {
		return 1
	}
	return a.Count
}

// IsPriority reports whether the action heads a priority trigger.
func (a Action) IsPriority() bool {
	switch a.Condition {
	case ConditionEveryMillis, ConditionOffCooldown, ConditionScript:
		return true
	}
	return false
}

// Label returns Name, or a description derived from the action when Name is empty.
func (a Action) Label() string {
	if a.Name != "" {
		return a.Name
	}
	switch a.Kind {
	case KindMove:
		if a.Position != nil {
			return fmt.Sprintf("move(%d,%d)", a.Position.X, a.Position.Y)
		}
		return "move"
	default:
		return fmt.Sprintf("key(%s)", a.Key)
	}
}

// Bindings is the set of key names the character has bound. A Key action
// referring to a name outside the set is rejected at configuration time.
type Bindings map[string]bool

// Has reports whether key is bound. A nil Bindings accepts every key.
func (b Bindings) Has(key string) bool {
	if b == nil {
		return true
	}
	return b[key]
}

var (
	validKinds      = map[Kind]bool{KindMove: true, KindKey: true}
	validConditions = map[Condition]bool{
		ConditionAny: true, ConditionEveryMillis: true, ConditionOffCooldown: true,
		ConditionScript: true, ConditionLinked: true,
	}
	validTimings = map[LinkTiming]bool{
		LinkNone: true, LinkBefore: true, LinkAtTheSame: true, LinkAfter: true, LinkAlong: true,
	}
	validDirections = map[Direction]bool{"": true, DirectionAny: true, DirectionLeft: true, DirectionRight: true}
	validWith       = map[UseWith]bool{"": true, WithAny: true, WithStationary: true, WithDoubleJump: true}
	validBuffered   = map[BufferedWait]bool{
		"": true, BufferedNone: true, BufferedInterruptible: true, BufferedUninterruptible: true,
	}
)

// Validate checks the action in isolation against bindings.
//
// Postcondition: Returns nil, or an error listing every violation. Missing
// bindings wrap ErrCapabilityMissing.
func (a Action) Validate(bindings Bindings) error {
	var errs []error
	if !validKinds[a.Kind] {
		errs = append(errs, fmt.Errorf("kind must be one of [move, key], got %q", a.Kind))
	}
	if !validConditions[a.Condition] {
		errs = append(errs, fmt.Errorf("condition %q is not recognised", a.Condition))
	}
	if a.Kind == KindMove && a.Position == nil {
		errs = append(errs, errors.New("move action requires a position"))
	}
	if a.Kind == KindKey {
		if a.Key == "" {
			errs = append(errs, fmt.Errorf("key action requires a key: %w", ErrCapabilityMissing))
		} else if !bindings.Has(a.Key) {
			errs = append(errs, fmt.Errorf("key %q is not bound: %w", a.Key, ErrCapabilityMissing))
		}
	}
	if !validTimings[a.LinkTiming] {
		errs = append(errs, fmt.Errorf("link timing %q is not recognised", a.LinkTiming))
	}
	if a.LinkTiming != LinkNone && a.LinkKey == "" {
		errs = append(errs, fmt.Errorf("link timing %q requires a link key: %w", a.LinkTiming, ErrCapabilityMissing))
	}
	if a.LinkKey != "" && !bindings.Has(a.LinkKey) {
		errs = append(errs, fmt.Errorf("link key %q is not bound: %w", a.LinkKey, ErrCapabilityMissing))
	}
	if !validDirections[a.Direction] {
		errs = append(errs, fmt.Errorf("direction %q is not recognised", a.Direction))
	}
	if !validWith[a.With] {
		errs = append(errs, fmt.Errorf("with %q is not recognised", a.With))
	}
	if !validBuffered[a.WaitAfterBuffered] {
		errs = append(errs, fmt.Errorf("wait_after_buffered %q is not recognised", a.WaitAfterBuffered))
	}
	if a.Count < 0 {
		errs = append(errs, fmt.Errorf("count must be >= 0, got %d", a.Count))
	}
	for name, d := range map[string]time.Duration{
		"hold": a.HoldFor, "wait_before": a.WaitBefore, "wait_before_jitter": a.WaitBeforeJitter,
		"wait_after": a.WaitAfter, "wait_after_jitter": a.WaitAfterJitter,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	switch a.Condition {
	case ConditionEveryMillis:
		if a.Every <= 0 {
			errs = append(errs, errors.New("every_millis condition requires a positive interval"))
		}
	case ConditionOffCooldown:
		if a.Skill == "" {
			errs = append(errs, errors.New("off_cooldown condition requires a skill"))
		}
	case ConditionScript:
		if a.Script == "" {
			errs = append(errs, errors.New("script condition requires a hook name"))
		}
	}
	if a.QueueToFront && !a.IsPriority() {
		errs = append(errs, errors.New("queue_to_front applies only to priority actions"))
	}
	if a.ConfirmBuff != "" && a.ConfirmWithin <= 0 {
		errs = append(errs, errors.New("confirm_buff requires a positive confirm window"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("action %s: %w", a.Label(), errors.Join(errs...))
}

// ValidateList validates every action and the chain structure of list.
//
// Postcondition: Returns nil, or an error describing every violation.
func ValidateList(list []Action, bindings Bindings) error {
	var errs []error
	for i, a := range list {
		if err := a.Validate(bindings); err != nil {
			errs = append(errs, fmt.Errorf("actions[%d]: %w", i, err))
		}
	}
	if len(list) > 0 && list[0].Condition == ConditionLinked {
		errs = append(errs, errors.New("actions[0]: the first action cannot be linked"))
	}
	return errors.Join(errs...)
}
