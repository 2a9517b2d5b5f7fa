package movement

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

// ErrStuck reports that unstuck recovery was exhausted without progress.
var ErrStuck = errors.New("movement stuck")

const (
	// ExactTolerance is the horizontal arrival tolerance of exact waypoints.
	ExactTolerance = 1
	// AdjustTolerance is the horizontal arrival tolerance otherwise.
	AdjustTolerance = 3
	// FallThreshold is the smallest vertical distance closed by a motion.
	FallThreshold = 4
)

// Keys are the bindings movement presses.
type Keys struct {
	Left     string
	Right    string
	Up       string
	Down     string
	Jump     string
	UpJump   string
	Grapple  string
	Teleport string
	Escape   string
}

// Config tunes the state machine.
type Config struct {
	Keys       Keys
	Thresholds pathing.Thresholds
	// DisableWalking closes short horizontal distances with direction taps
	// instead of a held direction key.
	DisableWalking bool
	// DisableDoubleJump closes every horizontal distance by walking.
	DisableDoubleJump bool
	// MoveTimeoutTicks is how many ticks without a position change count as
	// one stuck timeout.
	MoveTimeoutTicks int
	// UnstuckThreshold is how many stuck timeouts trigger unstuck recovery.
	UnstuckThreshold int
	// MaxUnstucks is how many recoveries are attempted before giving up.
	MaxUnstucks int
	// SettleTicks is how long a one-shot motion is observed before the next
	// decision.
	SettleTicks int
	// TapHold is the hold duration of a tapped key.
	TapHold time.Duration
}

// DefaultConfig returns the standard tuning with the given keys.
func DefaultConfig(keys Keys) Config {
	return Config{
		Keys:             keys,
		Thresholds:       pathing.DefaultThresholds(),
		MoveTimeoutTicks: 5,
		UnstuckThreshold: 6,
		MaxUnstucks:      3,
		SettleTicks:      3,
		TapHold:          30 * time.Millisecond,
	}
}

// Status is the outcome of one Update.
type Status string

const (
	Moving  Status = "moving"
	Arrived Status = "arrived"
	Failed  Status = "failed"
)

// Machine drives the player through a list of waypoints, one tick at a time.
//
// Invariant: held names the direction key a walk keeps pressed and is
// released on every exit from Walking.
type Machine struct {
	cfg    Config
	src    random.Source
	logger *zap.Logger

	waypoints []pathing.Waypoint
	index     int

	kind   Kind
	ticks  int
	origin geom.Point
	held   string
	facing int

	last     geom.Point
	hasLast  bool
	still    int
	timeouts int
	unstucks int
}

// NewMachine creates an idle Machine facing right.
//
// Precondition: src and logger must be non-nil.
func NewMachine(cfg Config, src random.Source, logger *zap.Logger) *Machine {
	if src == nil || logger == nil {
		panic("movement.NewMachine: src and logger must be non-nil")
	}
	return &Machine{cfg: cfg, src: src, logger: logger, kind: Idle, facing: 1}
}

// Kind returns the current movement state.
func (m *Machine) Kind() Kind { return m.kind }

// Index returns the index of the waypoint being approached.
func (m *Machine) Index() int { return m.index }

// Waypoints returns the planned waypoints.
func (m *Machine) Waypoints() []pathing.Waypoint { return m.waypoints }

// Facing returns -1 when facing left and 1 when facing right.
func (m *Machine) Facing() int { return m.facing }

// SetFacing records the facing without pressing anything. A machine created
// for a preempting action starts with the facing of the one it replaced.
func (m *Machine) SetFacing(dir int) {
	if dir != 0 {
		m.facing = geom.Sign(dir)
	}
}

// Face turns the player toward dir.
//
// Postcondition: Facing() == sign(dir); the burst is empty when the player
// already faced dir.
func (m *Machine) Face(dir int) input.Burst {
	dir = geom.Sign(dir)
	if dir == 0 || dir == m.facing {
		return nil
	}
	m.facing = dir
	return input.Burst{m.tap(m.directionKey(dir))}
}

// Walking reports whether a direction key is held for horizontal movement.
func (m *Machine) Walking() bool { return m.kind == Walking && m.held != "" }

// Begin starts moving along waypoints, replacing any current plan.
//
// Postcondition: Index() == 0 and the returned burst releases held keys.
func (m *Machine) Begin(waypoints []pathing.Waypoint) input.Burst {
	b := m.release()
	m.waypoints = append([]pathing.Waypoint(nil), waypoints...)
	m.index = 0
	m.toIdle()
	m.timeouts = 0
	m.unstucks = 0
	m.still = 0
	return b
}

// Stop abandons the plan and releases held keys.
func (m *Machine) Stop() input.Burst {
	b := m.release()
	m.waypoints = nil
	m.index = 0
	m.toIdle()
	return b
}

// Suspend releases held keys while keeping the plan, the waypoint index and
// the movement state.
func (m *Machine) Suspend() input.Burst {
	if m.held == "" {
		return nil
	}
	return input.Burst{input.KeyUp(m.held)}
}

// Resume re-presses keys released by Suspend and restarts the observation
// window of the current state.
func (m *Machine) Resume() input.Burst {
	m.ticks = 0
	m.still = 0
	m.hasLast = false
	if m.held == "" {
		return nil
	}
	return input.Burst{input.KeyDown(m.held)}
}

// ForceDoubleJump issues a double jump in the facing direction regardless of
// the plan.
//
// Postcondition: Kind() == DoubleJumping.
func (m *Machine) ForceDoubleJump(pos geom.Point) input.Burst {
	b := m.release()
	m.toIdle()
	return append(b, m.doubleJump(pos, m.facing)...)
}

// Update advances the machine with the latest snapshot.
//
// Postcondition: Status is Arrived once every waypoint was reached, Failed
// with ErrStuck once recovery is exhausted, Moving otherwise.
func (m *Machine) Update(snap *perception.Snapshot) (Status, input.Burst, error) {
	if snap == nil || snap.Player == nil {
		return Moving, nil, nil
	}
	pos := *snap.Player
	if m.hasLast && pos == m.last {
		m.still++
	} else {
		m.still = 0
	}
	m.last, m.hasLast = pos, true

	var b input.Burst
	switch {
	case m.kind == Walking:
		wp := m.waypoints[m.index]
		dx := wp.Point.X - pos.X
		if geom.Abs(dx) > m.tolerance(wp) && geom.Sign(dx) == m.heldDirection() {
			if m.still >= m.cfg.MoveTimeoutTicks {
				return m.stuck(pos)
			}
			return Moving, nil, nil
		}
		b = append(b, m.release()...)
		m.toIdle()
	case oneShot[m.kind]:
		m.ticks++
		settled := m.ticks >= m.cfg.SettleTicks && m.still >= 1
		if !settled && m.ticks < m.cfg.MoveTimeoutTicks*2 {
			return Moving, nil, nil
		}
		wasUnstuck := m.kind == Unstucking
		moved := pos != m.origin
		m.toIdle()
		if !moved && !wasUnstuck && m.index < len(m.waypoints) {
			status, sb, err := m.stuck(pos)
			if status != Moving || len(sb) > 0 {
				return status, sb, err
			}
		}
	}

	status, db := m.decide(pos, snap.Capabilities)
	return status, append(b, db...), nil
}

// decide picks the next motion from Idle.
func (m *Machine) decide(pos geom.Point, caps perception.Capabilities) (Status, input.Burst) {
	for m.index < len(m.waypoints) {
		wp := m.waypoints[m.index]
		dx := wp.Point.X - pos.X
		dy := wp.Point.Y - pos.Y

		if geom.Abs(dx) > m.tolerance(wp) {
			return Moving, m.horizontal(pos, wp, dx, caps)
		}
		if dy >= FallThreshold {
			return Moving, m.vertical(pos, dy, caps)
		}
		if dy <= -FallThreshold {
			return Moving, m.enter(Falling, pos, input.Burst{
				input.KeyDown(m.cfg.Keys.Down),
				m.tap(m.cfg.Keys.Jump),
				input.KeyUp(m.cfg.Keys.Down),
			})
		}

		m.logger.Debug("waypoint reached",
			zap.Int("index", m.index),
			zap.Stringer("waypoint", wp.Point),
			zap.Stringer("position", pos),
		)
		m.index++
		m.timeouts = 0
	}
	return Arrived, nil
}

func (m *Machine) horizontal(pos geom.Point, wp pathing.Waypoint, dx int, caps perception.Capabilities) input.Burst {
	dir := geom.Sign(dx)
	far := geom.Abs(dx) > m.cfg.Thresholds.DoubleJump || wp.Hint == pathing.HintGap
	if far && !m.cfg.DisableDoubleJump {
		if caps.CanTeleport && m.cfg.Keys.Teleport != "" {
			m.facing = dir
			key := m.directionKey(dir)
			return m.enter(Teleporting, pos, input.Burst{
				input.KeyDown(key),
				m.tap(m.cfg.Keys.Teleport),
				input.KeyUp(key),
			})
		}
		if caps.CanDoubleJump {
			return m.doubleJump(pos, dir)
		}
	}
	m.facing = dir
	key := m.directionKey(dir)
	if m.cfg.DisableWalking {
		// Adjusting: one tap per tick, re-decided on the next Update.
		return m.enter(Walking, pos, input.Burst{m.tap(key)})
	}
	b := m.enter(Walking, pos, input.Burst{input.KeyDown(key)})
	m.held = key
	return b
}

func (m *Machine) vertical(pos geom.Point, dy int, caps perception.Capabilities) input.Burst {
	grappleAt := m.cfg.Thresholds.Grapple
	if caps.CanTeleport && m.cfg.Keys.Teleport != "" {
		grappleAt = m.cfg.Thresholds.GrappleMax
	}
	canGrapple := caps.CanGrapple && m.cfg.Keys.Grapple != "" && !m.cfg.Thresholds.UpJumpOnly
	canUpJump := caps.CanUpJump || m.cfg.Keys.UpJump != ""

	switch {
	case dy >= grappleAt && canGrapple:
		return m.enter(Grappling, pos, input.Burst{m.tap(m.cfg.Keys.Grapple)})
	case dy >= m.cfg.Thresholds.UpJump && canUpJump:
		if m.cfg.Keys.UpJump != "" {
			return m.enter(UpJumping, pos, input.Burst{m.tap(m.cfg.Keys.UpJump)})
		}
		return m.enter(UpJumping, pos, input.Burst{
			input.KeyDown(m.cfg.Keys.Up),
			m.tap(m.cfg.Keys.Jump),
			m.tap(m.cfg.Keys.Jump),
			input.KeyUp(m.cfg.Keys.Up),
		})
	case dy >= m.cfg.Thresholds.UpJump && canGrapple:
		return m.enter(Grappling, pos, input.Burst{m.tap(m.cfg.Keys.Grapple)})
	default:
		return m.enter(Jumping, pos, input.Burst{m.tap(m.cfg.Keys.Jump)})
	}
}

func (m *Machine) doubleJump(pos geom.Point, dir int) input.Burst {
	m.facing = dir
	key := m.directionKey(dir)
	return m.enter(DoubleJumping, pos, input.Burst{
		input.KeyDown(key),
		m.tap(m.cfg.Keys.Jump).After(60 * time.Millisecond),
		m.tap(m.cfg.Keys.Jump),
		input.KeyUp(key),
	})
}

// stuck records a stuck timeout and starts recovery when the threshold is hit.
func (m *Machine) stuck(pos geom.Point) (Status, input.Burst, error) {
	b := m.release()
	m.toIdle()
	m.still = 0
	m.timeouts++
	m.logger.Debug("movement timeout", zap.Int("timeouts", m.timeouts), zap.Stringer("position", pos))
	if m.timeouts < m.cfg.UnstuckThreshold {
		return Moving, b, nil
	}
	m.timeouts = 0
	m.unstucks++
	if m.unstucks > m.cfg.MaxUnstucks {
		m.logger.Warn("movement failed", zap.Int("unstucks", m.unstucks), zap.Stringer("position", pos))
		return Failed, b, ErrStuck
	}
	dir := 1
	if m.src.Intn(2) == 0 {
		dir = -1
	}
	key := m.directionKey(dir)
	b = append(b, m.enter(Unstucking, pos, input.Burst{
		m.tap(m.cfg.Keys.Escape),
		input.KeyDown(key),
		m.tap(m.cfg.Keys.Jump),
		input.KeyUp(key),
	})...)
	return Moving, b, nil
}

func (m *Machine) enter(k Kind, pos geom.Point, b input.Burst) input.Burst {
	mustTransition(m.kind, k)
	m.logger.Debug("movement state", zap.String("from", string(m.kind)), zap.String("to", string(k)))
	m.kind = k
	m.ticks = 0
	m.origin = pos
	return b
}

func (m *Machine) toIdle() {
	if m.kind != Idle {
		mustTransition(m.kind, Idle)
	}
	m.kind = Idle
	m.ticks = 0
}

func (m *Machine) release() input.Burst {
	if m.held == "" {
		return nil
	}
	b := input.Burst{input.KeyUp(m.held)}
	m.held = ""
	return b
}

func (m *Machine) heldDirection() int {
	switch m.held {
	case m.cfg.Keys.Left:
		return -1
	case m.cfg.Keys.Right:
		return 1
	}
	return 0
}

func (m *Machine) directionKey(dir int) string {
	if dir < 0 {
		return m.cfg.Keys.Left
	}
	return m.cfg.Keys.Right
}

func (m *Machine) tap(key string) input.Command {
	return input.Tap(key, m.cfg.TapHold)
}

func (m *Machine) tolerance(wp pathing.Waypoint) int {
	if wp.Exact {
		return ExactTolerance
	}
	return AdjustTolerance
}
