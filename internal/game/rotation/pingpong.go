package rotation

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/movement"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

const (
	// MidBand is the distance from the vertical midpoint within which no
	// vertical move is randomized.
	MidBand = 9
	// upChance and downChance are the per-leg probabilities of a vertical
	// move below and above the midpoint.
	upChance   = 0.35
	downChance = 0.25
	// defaultStep is the horizontal length of one leg.
	defaultStep = 20
)

// PingPongConfig tunes ping-pong.
type PingPongConfig struct {
	Bound geom.Bound
	// Key is the mobbing key used after each leg.
	Key  action.Action
	Step int
}

// Validate checks the bound and the mobbing key.
func (c PingPongConfig) Validate() error {
	var errs []error
	if !c.Bound.Valid() {
		errs = append(errs, errors.New("ping pong requires a valid bound"))
	}
	if c.Key.Key == "" {
		errs = append(errs, errors.New("ping pong requires a mobbing key"))
	}
	if c.Step < 0 {
		errs = append(errs, errors.New("ping pong step must not be negative"))
	}
	return errors.Join(errs...)
}

// Sweeper sweeps its bound horizontally, flipping direction at the edges.
//
// Invariant: dir is -1 or 1.
type Sweeper struct {
	cfg    PingPongConfig
	src    random.Source
	logger *zap.Logger
	dir    int
}

// NewSweeper creates a Sweeper moving right.
func NewSweeper(cfg PingPongConfig, src random.Source, logger *zap.Logger) *Sweeper {
	if cfg.Step <= 0 {
		cfg.Step = defaultStep
	}
	return &Sweeper{cfg: cfg, src: src, logger: logger, dir: 1}
}

// Reset turns the sweep right again.
func (p *Sweeper) Reset() { p.dir = 1 }

// Direction returns the horizontal direction.
func (p *Sweeper) Direction() int { return p.dir }

// Next returns the next leg: back into the bound when outside, otherwise one
// step toward the current edge with an occasional vertical move.
func (p *Sweeper) Next(_ time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	if snap == nil || snap.Player == nil {
		return action.Unit{}, false
	}
	pos := *snap.Player
	b := p.cfg.Bound
	if !b.Contains(pos) {
		target := b.Clamp(pos)
		p.logger.Debug("ping pong returning to bound", zap.Stringer("position", pos), zap.Stringer("target", target))
		return action.Single(action.Action{
			Name:      "ping_pong_return",
			Kind:      action.KindMove,
			Condition: action.ConditionAny,
			Position:  &action.Position{X: target.X, Y: target.Y},
		}), true
	}

	// A leg ends within the adjusting tolerance of its target.
	reach := movement.AdjustTolerance
	if (p.dir > 0 && pos.X >= b.MaxX-reach) || (p.dir < 0 && pos.X <= b.MinX+reach) {
		p.dir = -p.dir
		p.logger.Debug("ping pong flipped", zap.Int("direction", p.dir))
	}
	x := geom.Clamp(pos.X+p.dir*p.cfg.Step, b.MinX, b.MaxX)
	y := pos.Y + p.vertical(pos.Y)

	a := p.cfg.Key
	a.Kind = action.KindKey
	a.Name = "ping_pong"
	a.Task = action.TaskMobbing
	a.Condition = action.ConditionAny
	a.Position = &action.Position{X: x, Y: y}
	return action.Single(a), true
}

// vertical returns the randomized vertical offset of one leg, zero within
// MidBand of the midpoint.
func (p *Sweeper) vertical(y int) int {
	b := p.cfg.Bound
	d := y - b.Mid().Y
	switch {
	case d < -MidBand && random.Chance(p.src, upChance):
		return min(random.Between(p.src, 10, 24), b.MaxY-y)
	case d > MidBand && random.Chance(p.src, downChance):
		return -min(random.Between(p.src, 4, 24), y-b.MinY)
	}
	return 0
}
