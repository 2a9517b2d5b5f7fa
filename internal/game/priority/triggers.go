package priority

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/retry"
)

const (
	// RestartLimit bounds how many times in a row an unconfirmed cast is
	// re-issued before the trigger is disabled.
	RestartLimit = 3
	// FamiliarLimit and BoosterLimit are the failure limits of the familiar
	// swap and booster behaviors.
	FamiliarLimit = 3
	BoosterLimit  = 5

	cooldownSpacing = time.Second
	unstuckSpacing  = 3 * time.Second
	runeSpacing     = 10 * time.Second
	buffSpacing     = 20 * time.Second
	boosterSpacing  = 20 * time.Second
	essenceSpacing  = 20 * time.Second
	eliteSpacing    = 30 * time.Second
	defaultFamiliar = 300 * time.Second
	defaultConfirm  = 3 * time.Second
)

// Conditions evaluates scripted readiness predicates.
type Conditions interface {
	Ready(hook string, snap *perception.Snapshot) (bool, error)
}

// spacing gates a trigger to at most one dispatch per interval.
type spacing struct {
	every time.Duration
	last  time.Time
}

func (s *spacing) elapsed(now time.Time) bool {
	return s.last.IsZero() || now.Sub(s.last) >= s.every
}

func (s *spacing) mark(now time.Time) { s.last = now }

// ActionTrigger turns a user-authored priority unit into a Trigger. The rank
// follows the head condition: every_millis and script are periodic,
// off_cooldown is cooldown.
//
// Invariant: the unit is dispatched whole; a failed cast restarts it from its
// first member.
type ActionTrigger struct {
	unit     action.Unit
	cond     Conditions
	restarts *retry.Counter
	gate     spacing
	logger   *zap.Logger
}

// NewActionTrigger creates a trigger for u.
//
// Precondition: u.Head().IsPriority(); cond must be non-nil for script heads.
func NewActionTrigger(u action.Unit, cond Conditions, logger *zap.Logger) *ActionTrigger {
	head := u.Head()
	gate := spacing{every: cooldownSpacing}
	if head.Condition == action.ConditionEveryMillis || (head.Condition == action.ConditionScript && head.Every > 0) {
		gate.every = head.Every
	}
	return &ActionTrigger{
		unit:     u,
		cond:     cond,
		restarts: retry.NewCounter(head.Label(), RestartLimit),
		gate:     gate,
		logger:   logger,
	}
}

func (t *ActionTrigger) Name() string       { return t.unit.Head().Label() }
func (t *ActionTrigger) QueueToFront() bool { return t.unit.Head().QueueToFront }

// Class puts every off_cooldown trigger in ClassErda.
func (t *ActionTrigger) Class() Class {
	if t.unit.Head().Condition == action.ConditionOffCooldown {
		return ClassErda
	}
	return ClassNone
}

func (t *ActionTrigger) Rank() Rank {
	if t.unit.Head().Condition == action.ConditionOffCooldown {
		return RankCooldown
	}
	return RankPeriodic
}

// Ready applies the head condition.
func (t *ActionTrigger) Ready(now time.Time, snap *perception.Snapshot) bool {
	if t.restarts.Disabled() || !t.gate.elapsed(now) {
		return false
	}
	head := t.unit.Head()
	switch head.Condition {
	case action.ConditionEveryMillis:
		return true
	case action.ConditionOffCooldown:
		return snap.SkillReady(head.Skill)
	case action.ConditionScript:
		if t.cond == nil {
			return false
		}
		ok, err := t.cond.Ready(head.Script, snap)
		if err != nil {
			t.logger.Warn("script condition failed", zap.String("trigger", t.Name()), zap.Error(err))
			return false
		}
		return ok
	}
	return false
}

// Unit returns the whole unit from its first member.
func (t *ActionTrigger) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	t.gate.mark(now)
	return t.unit, true
}

// Done re-arms the trigger immediately after an unconfirmed cast so the unit
// is re-issued from its start.
func (t *ActionTrigger) Done(_ time.Time, err error) error {
	if err == nil {
		return t.restarts.RecordAttempt(true)
	}
	if errors.Is(err, executor.ErrActionCastUnconfirmed) {
		t.gate.last = time.Time{}
		t.logger.Info("restarting unconfirmed cast", zap.String("trigger", t.Name()), zap.Error(err))
		return t.restarts.RecordAttempt(false)
	}
	t.logger.Warn("priority action failed", zap.String("trigger", t.Name()), zap.Error(err))
	return nil
}

// Rearm re-enables a trigger disabled after RestartLimit unconfirmed casts.
func (t *ActionTrigger) Rearm() { t.restarts.Rearm() }

// Restarts exposes the restart counter.
func (t *ActionTrigger) Restarts() *retry.Counter { return t.restarts }

func systemKey(name, key string, task action.Task) action.Action {
	return action.Action{
		Name:      name,
		Kind:      action.KindKey,
		Condition: action.ConditionAny,
		Origin:    action.OriginSystem,
		Task:      task,
		Key:       key,
		Count:     1,
	}
}

func confirmWindow(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultConfirm
	}
	return d
}

// RuneConfig configures rune solving.
type RuneConfig struct {
	Key string
	// Buff is the buff granted by a solved rune.
	Buff          string
	ConfirmWithin time.Duration
}

// Rune walks to a detected rune and solves it. It queues to the front so it
// displaces any running priority unit that lacks the flag.
type Rune struct {
	cfg    RuneConfig
	gate   spacing
	logger *zap.Logger
}

// NewRune creates the rune solving trigger.
func NewRune(cfg RuneConfig, logger *zap.Logger) *Rune {
	return &Rune{cfg: cfg, gate: spacing{every: runeSpacing}, logger: logger}
}

func (r *Rune) Name() string       { return "solve_rune" }
func (r *Rune) Rank() Rank         { return RankCooldown }
func (r *Rune) QueueToFront() bool { return true }

func (r *Rune) Ready(now time.Time, snap *perception.Snapshot) bool {
	return snap != nil && snap.Rune != nil && !snap.HasBuff(r.cfg.Buff) && r.gate.elapsed(now)
}

func (r *Rune) Unit(now time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	if snap == nil || snap.Rune == nil {
		return action.Unit{}, false
	}
	r.gate.mark(now)
	a := systemKey(r.Name(), r.cfg.Key, action.TaskSolveRune)
	a.Position = &action.Position{X: snap.Rune.X, Y: snap.Rune.Y}
	a.QueueToFront = true
	if r.cfg.Buff != "" {
		a.ConfirmBuff = r.cfg.Buff
		a.ConfirmWithin = confirmWindow(r.cfg.ConfirmWithin)
	}
	return action.Single(a), true
}

func (r *Rune) Done(_ time.Time, err error) error {
	if err != nil {
		r.logger.Warn("rune not solved", zap.Error(err))
	}
	return nil
}

// BuffConfig configures one buff kept active by the Buff trigger.
type BuffConfig struct {
	Name string
	Key  string
	// ExclusiveWith lists buffs that suppress this one while active.
	ExclusiveWith []string
}

// Buff re-applies a missing buff. It never applies a buff while one of its
// mutually exclusive buffs is detected active.
type Buff struct {
	cfg    BuffConfig
	gate   spacing
	logger *zap.Logger
}

// NewBuff creates a buff trigger.
func NewBuff(cfg BuffConfig, logger *zap.Logger) *Buff {
	return &Buff{cfg: cfg, gate: spacing{every: buffSpacing}, logger: logger}
}

func (b *Buff) Name() string       { return "buff_" + b.cfg.Name }
func (b *Buff) Rank() Rank         { return RankPeriodic }
func (b *Buff) QueueToFront() bool { return false }

func (b *Buff) wanted(snap *perception.Snapshot) bool {
	if snap == nil || snap.HasBuff(b.cfg.Name) {
		return false
	}
	for _, other := range b.cfg.ExclusiveWith {
		if snap.HasBuff(other) {
			return false
		}
	}
	return true
}

func (b *Buff) Ready(now time.Time, snap *perception.Snapshot) bool {
	return b.gate.elapsed(now) && b.wanted(snap)
}

// Unit re-checks exclusivity since another buff may have landed while this
// one was queued.
func (b *Buff) Unit(now time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	if !b.wanted(snap) {
		return action.Unit{}, false
	}
	b.gate.mark(now)
	return action.Single(systemKey(b.Name(), b.cfg.Key, action.TaskBuff)), true
}

func (b *Buff) Done(time.Time, error) error { return nil }

// BoosterConfig configures one booster kind.
type BoosterConfig struct {
	// Name defaults to "booster".
	Name          string
	Key           string
	Buff          string
	ConfirmWithin time.Duration
}

// Booster uses a booster whenever its buff is missing, bounded by a Failure
// Counter. Booster kinds share ClassBooster so only one is ever in flight.
type Booster struct {
	cfg     BoosterConfig
	counter *retry.Counter
	gate    spacing
	logger  *zap.Logger
}

// NewBooster creates the booster trigger gated by counter.
func NewBooster(cfg BoosterConfig, counter *retry.Counter, logger *zap.Logger) *Booster {
	if cfg.Name == "" {
		cfg.Name = "booster"
	}
	return &Booster{cfg: cfg, counter: counter, gate: spacing{every: boosterSpacing}, logger: logger}
}

func (b *Booster) Name() string       { return b.cfg.Name }
func (b *Booster) Rank() Rank         { return RankPeriodic }
func (b *Booster) QueueToFront() bool { return false }
func (b *Booster) Class() Class       { return ClassBooster }

func (b *Booster) Ready(now time.Time, snap *perception.Snapshot) bool {
	return !b.counter.Disabled() && b.gate.elapsed(now) && snap != nil && !snap.HasBuff(b.cfg.Buff)
}

func (b *Booster) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	b.gate.mark(now)
	a := systemKey(b.Name(), b.cfg.Key, action.TaskUseBooster)
	a.ConfirmBuff = b.cfg.Buff
	a.ConfirmWithin = confirmWindow(b.cfg.ConfirmWithin)
	return action.Single(a), true
}

func (b *Booster) Done(_ time.Time, err error) error {
	return b.counter.RecordAttempt(err == nil)
}

// FamiliarConfig configures familiar swapping.
type FamiliarConfig struct {
	Key           string
	Every         time.Duration
	Buff          string
	ConfirmWithin time.Duration
}

// Familiar swaps familiars on a fixed interval, bounded by a Failure Counter.
type Familiar struct {
	cfg     FamiliarConfig
	counter *retry.Counter
	gate    spacing
	logger  *zap.Logger
}

// NewFamiliar creates the familiar swap trigger gated by counter.
func NewFamiliar(cfg FamiliarConfig, counter *retry.Counter, logger *zap.Logger) *Familiar {
	every := cfg.Every
	if every <= 0 {
		every = defaultFamiliar
	}
	return &Familiar{cfg: cfg, counter: counter, gate: spacing{every: every}, logger: logger}
}

func (f *Familiar) Name() string       { return "swap_familiar" }
func (f *Familiar) Rank() Rank         { return RankPeriodic }
func (f *Familiar) QueueToFront() bool { return false }

func (f *Familiar) Ready(now time.Time, _ *perception.Snapshot) bool {
	return !f.counter.Disabled() && f.gate.elapsed(now)
}

func (f *Familiar) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	f.gate.mark(now)
	a := systemKey(f.Name(), f.cfg.Key, action.TaskSwapFamiliar)
	if f.cfg.Buff != "" {
		a.ConfirmBuff = f.cfg.Buff
		a.ConfirmWithin = confirmWindow(f.cfg.ConfirmWithin)
	}
	return action.Single(a), true
}

func (f *Familiar) Done(_ time.Time, err error) error {
	return f.counter.RecordAttempt(err == nil)
}

// EssenceConfig configures familiar essence replenishing.
type EssenceConfig struct {
	Key string
	// FamiliarBuff is the buff shown while a familiar is summoned.
	FamiliarBuff string
}

// Essence replenishes familiar essence once it runs out while a familiar is
// summoned.
type Essence struct {
	cfg    EssenceConfig
	gate   spacing
	logger *zap.Logger
}

// NewEssence creates the essence replenish trigger.
func NewEssence(cfg EssenceConfig, logger *zap.Logger) *Essence {
	return &Essence{cfg: cfg, gate: spacing{every: essenceSpacing}, logger: logger}
}

func (e *Essence) Name() string       { return "replenish_essence" }
func (e *Essence) Rank() Rank         { return RankPeriodic }
func (e *Essence) QueueToFront() bool { return false }

func (e *Essence) Ready(now time.Time, snap *perception.Snapshot) bool {
	return snap != nil && snap.EssenceDepleted && snap.HasBuff(e.cfg.FamiliarBuff) && e.gate.elapsed(now)
}

func (e *Essence) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	e.gate.mark(now)
	return action.Single(systemKey(e.Name(), e.cfg.Key, action.TaskReplenishEssence)), true
}

func (e *Essence) Done(time.Time, error) error { return nil }

// UnstuckConfig configures closing the settings menu.
type UnstuckConfig struct {
	// Key closes the menu, usually escape.
	Key string
}

// Unstuck closes the settings menu when it is detected on screen. It queues
// to the front and never runs while the character is dead.
type Unstuck struct {
	cfg    UnstuckConfig
	gate   spacing
	logger *zap.Logger
}

// NewUnstuck creates the settings menu trigger.
func NewUnstuck(cfg UnstuckConfig, logger *zap.Logger) *Unstuck {
	return &Unstuck{cfg: cfg, gate: spacing{every: unstuckSpacing}, logger: logger}
}

func (u *Unstuck) Name() string       { return "unstuck" }
func (u *Unstuck) Rank() Rank         { return RankNavigation }
func (u *Unstuck) QueueToFront() bool { return true }

func (u *Unstuck) Ready(now time.Time, snap *perception.Snapshot) bool {
	return snap != nil && snap.EscMenu && !snap.Dead && u.gate.elapsed(now)
}

// Unit re-checks death since the character may have died while queued.
func (u *Unstuck) Unit(now time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	if snap != nil && snap.Dead {
		return action.Unit{}, false
	}
	u.gate.mark(now)
	a := systemKey(u.Name(), u.cfg.Key, action.TaskUnstuck)
	a.QueueToFront = true
	return action.Single(a), true
}

func (u *Unstuck) Done(_ time.Time, err error) error {
	if err != nil {
		u.logger.Warn("settings menu not closed", zap.Error(err))
	}
	return nil
}

// PanicConfig configures channel cycling when strangers stay in view.
type PanicConfig struct {
	// Key changes channel.
	Key   string
	Delay time.Duration
	// Affiliations that count as a threat. Empty means strangers only.
	Affiliations []perception.Affiliation
}

// Panic cycles channel once other players stayed in view for Delay. Every
// cycle counts as a failure until a later snapshot is clear, so the counter
// bounds the number of consecutive channels tried.
type Panic struct {
	cfg       PanicConfig
	counter   *retry.Counter
	seenSince time.Time
	cycled    bool
	logger    *zap.Logger
}

// NewPanic creates the panic trigger gated by counter.
func NewPanic(cfg PanicConfig, counter *retry.Counter, logger *zap.Logger) *Panic {
	if len(cfg.Affiliations) == 0 {
		cfg.Affiliations = []perception.Affiliation{perception.AffiliationStranger}
	}
	return &Panic{cfg: cfg, counter: counter, logger: logger}
}

func (p *Panic) Name() string       { return "panic" }
func (p *Panic) Rank() Rank         { return RankPanic }
func (p *Panic) QueueToFront() bool { return false }

func (p *Panic) threatened(snap *perception.Snapshot) bool {
	for _, a := range p.cfg.Affiliations {
		if snap.PlayersSeen(a) > 0 {
			return true
		}
	}
	return false
}

func (p *Panic) Ready(now time.Time, snap *perception.Snapshot) bool {
	if !p.threatened(snap) {
		if p.cycled {
			p.cycled = false
			// A success never trips the counter.
			p.counter.RecordAttempt(true)
			p.logger.Info("channel clear")
		}
		p.seenSince = time.Time{}
		return false
	}
	if p.seenSince.IsZero() {
		p.seenSince = now
	}
	return !p.counter.Disabled() && now.Sub(p.seenSince) >= p.cfg.Delay
}

func (p *Panic) Unit(time.Time, *perception.Snapshot) (action.Unit, bool) {
	return action.Single(systemKey(p.Name(), p.cfg.Key, action.TaskChangeChannel)), true
}

// Done restarts the delay in the new channel.
func (p *Panic) Done(_ time.Time, err error) error {
	p.seenSince = time.Time{}
	p.cycled = err == nil
	return p.counter.RecordAttempt(false)
}

// EliteConfig configures the elite boss response.
type EliteConfig struct {
	Key string
	// ChangeChannel cycles channel instead of using Key.
	ChangeChannel bool
}

// Elite responds to an elite boss spawn.
type Elite struct {
	cfg    EliteConfig
	gate   spacing
	logger *zap.Logger
}

// NewElite creates the elite boss trigger.
func NewElite(cfg EliteConfig, logger *zap.Logger) *Elite {
	return &Elite{cfg: cfg, gate: spacing{every: eliteSpacing}, logger: logger}
}

func (e *Elite) Name() string       { return "elite_boss" }
func (e *Elite) Rank() Rank         { return RankCooldown }
func (e *Elite) QueueToFront() bool { return false }

func (e *Elite) Ready(now time.Time, snap *perception.Snapshot) bool {
	return snap != nil && snap.EliteBoss && e.gate.elapsed(now)
}

func (e *Elite) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	e.gate.mark(now)
	task := action.TaskNone
	if e.cfg.ChangeChannel {
		task = action.TaskChangeChannel
	}
	return action.Single(systemKey(e.Name(), e.cfg.Key, task)), true
}

func (e *Elite) Done(time.Time, error) error { return nil }

// Builtins configures the system triggers. A nil entry disables the trigger.
type Builtins struct {
	Rune        *RuneConfig
	Buffs       []BuffConfig
	Booster     *BoosterConfig
	HexaBooster *BoosterConfig
	Familiar    *FamiliarConfig
	Essence     *EssenceConfig
	Panic       *PanicConfig
	Elite       *EliteConfig
	Unstuck     *UnstuckConfig
}

// Counters are the Failure Counters gating the built-in triggers.
type Counters struct {
	Familiar    *retry.Counter
	Booster     *retry.Counter
	HexaBooster *retry.Counter
	Panic       *retry.Counter
}

// NewCounters creates armed counters. panicChannels bounds consecutive
// channel cycles.
//
// Precondition: panicChannels > 0.
func NewCounters(panicChannels int) Counters {
	return Counters{
		Familiar:    retry.NewCounter("swap_familiar", FamiliarLimit),
		Booster:     retry.NewCounter("booster", BoosterLimit),
		HexaBooster: retry.NewCounter("hexa_booster", BoosterLimit),
		Panic:       retry.NewCounter("panic", panicChannels),
	}
}

// Rearm re-enables every gated behavior.
func (c Counters) Rearm() {
	for _, ctr := range []*retry.Counter{c.Familiar, c.Booster, c.HexaBooster, c.Panic} {
		if ctr != nil {
			ctr.Rearm()
		}
	}
}

// Build returns the configured built-in triggers.
func (b Builtins) Build(counters Counters, logger *zap.Logger) []Trigger {
	var out []Trigger
	if b.Unstuck != nil {
		out = append(out, NewUnstuck(*b.Unstuck, logger))
	}
	if b.Panic != nil {
		out = append(out, NewPanic(*b.Panic, counters.Panic, logger))
	}
	if b.Rune != nil {
		out = append(out, NewRune(*b.Rune, logger))
	}
	if b.Elite != nil {
		out = append(out, NewElite(*b.Elite, logger))
	}
	for _, cfg := range b.Buffs {
		out = append(out, NewBuff(cfg, logger))
	}
	if b.Booster != nil {
		out = append(out, NewBooster(*b.Booster, counters.Booster, logger))
	}
	if b.HexaBooster != nil {
		cfg := *b.HexaBooster
		if cfg.Name == "" {
			cfg.Name = "hexa_booster"
		}
		out = append(out, NewBooster(cfg, counters.HexaBooster, logger))
	}
	if b.Familiar != nil {
		out = append(out, NewFamiliar(*b.Familiar, counters.Familiar, logger))
	}
	if b.Essence != nil {
		out = append(out, NewEssence(*b.Essence, logger))
	}
	return out
}

// FromUnits wraps user priority units into triggers.
func FromUnits(units []action.Unit, cond Conditions, logger *zap.Logger) []Trigger {
	out := make([]Trigger, 0, len(units))
	for _, u := range units {
		out = append(out, NewActionTrigger(u, cond, logger))
	}
	return out
}

