package rotation

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

// AutoMobConfig tunes auto-mobbing.
type AutoMobConfig struct {
	Bound geom.Bound
	// Key is the mobbing key action used on every selected mob.
	Key action.Action
	// Graph, when non-empty, rejects mobs inside gaps, snaps mobs onto their
	// footing and supplies inter-quadrant pathing targets.
	Graph *pathing.Graph
	// GracePeriod is how long the active quadrant must stay empty before the
	// cursor advances.
	GracePeriod time.Duration
	// UseKeyWhilePathing fires Key during inter-quadrant transit whenever a
	// mob is ahead, at most once per DetectInterval.
	UseKeyWhilePathing bool
	DetectInterval     time.Duration
	// Reach is how far above the player a mob may be and still be chosen.
	Reach int
}

// Validate checks the bound and the mobbing key.
func (c AutoMobConfig) Validate() error {
	var errs []error
	if !c.Bound.Valid() {
		errs = append(errs, errors.New("auto mobbing requires a valid bound"))
	}
	if c.Key.Key == "" {
		errs = append(errs, errors.New("auto mobbing requires a mobbing key"))
	}
	if c.GracePeriod < 0 || c.DetectInterval < 0 {
		errs = append(errs, errors.New("auto mobbing intervals must not be negative"))
	}
	return errors.Join(errs...)
}

// AutoMob visits the quadrants of its bound in clockwise order and attacks a
// random mob of the active quadrant.
//
// Invariant: the cursor only advances after GracePeriod without a mob in the
// active quadrant, and always to quadrant.Next().
type AutoMob struct {
	cfg    AutoMobConfig
	src    random.Source
	logger *zap.Logger

	quadrant   geom.Quadrant
	started    bool
	emptySince time.Time
}

// NewAutoMob creates an AutoMob whose cursor is placed on the first snapshot.
func NewAutoMob(cfg AutoMobConfig, src random.Source, logger *zap.Logger) *AutoMob {
	if cfg.Reach <= 0 {
		cfg.Reach = pathing.DefaultThresholds().GrappleMax
	}
	return &AutoMob{cfg: cfg, src: src, logger: logger}
}

// Reset forgets the cursor. The next snapshot places it again.
func (m *AutoMob) Reset() {
	m.started = false
	m.quadrant = geom.NorthWest
	m.emptySince = time.Time{}
}

// Quadrant returns the active quadrant.
func (m *AutoMob) Quadrant() geom.Quadrant { return m.quadrant }

// Next selects a mob of the active quadrant, or a pathing target in the next
// quadrant once the active one stayed empty for the grace period.
func (m *AutoMob) Next(now time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	if snap == nil || snap.Player == nil {
		return action.Unit{}, false
	}
	pos := *snap.Player
	if !m.started {
		m.quadrant = m.cfg.Bound.QuadrantOf(pos)
		m.started = true
		m.logger.Info("auto mobbing started", zap.Stringer("quadrant", m.quadrant))
	}

	if target, ok := random.Choose(m.src, m.Candidates(pos, snap.Mobs)); ok {
		m.emptySince = time.Time{}
		a := m.cfg.Key
		a.Kind = action.KindKey
		a.Name = "mobbing"
		a.Task = action.TaskMobbing
		a.Condition = action.ConditionAny
		a.Position = &action.Position{X: target.X, Y: target.Y}
		return action.Single(a), true
	}

	if m.emptySince.IsZero() {
		m.emptySince = now
	}
	if now.Sub(m.emptySince) < m.cfg.GracePeriod {
		return action.Unit{}, false
	}
	m.emptySince = time.Time{}
	from := m.quadrant
	m.quadrant = m.quadrant.Next()
	target := m.pathingTarget(m.quadrant)
	m.logger.Info("quadrant advanced",
		zap.Stringer("from", from),
		zap.Stringer("to", m.quadrant),
		zap.Stringer("target", target),
	)
	a := action.Action{
		Name:               "quadrant",
		Kind:               action.KindMove,
		Condition:          action.ConditionAny,
		Origin:             m.cfg.Key.Origin,
		Position:           &action.Position{X: target.X, Y: target.Y},
		Key:                m.cfg.Key.Key,
		UseKeyWhilePathing: m.cfg.UseKeyWhilePathing,
		DetectInterval:     m.cfg.DetectInterval,
	}
	return action.Single(a), true
}

// Candidates returns the mobs of the active quadrant that can be attacked
// from pos, snapped onto their footing.
func (m *AutoMob) Candidates(pos geom.Point, mobs []geom.Point) []geom.Point {
	area := m.cfg.Bound.Quadrant(m.quadrant)
	g := m.cfg.Graph
	var out []geom.Point
	for _, mob := range mobs {
		if !area.Contains(mob) || mob.Y-pos.Y > m.cfg.Reach {
			continue
		}
		if !g.Empty() {
			if g.InGap(mob) {
				continue
			}
			if p, ok := g.Footing(mob); ok {
				mob = p
			}
		}
		out = append(out, mob)
	}
	return out
}

// pathingTarget picks a point on a random platform inside q, or the quadrant
// center with added randomness when no platform lies there.
func (m *AutoMob) pathingTarget(q geom.Quadrant) geom.Point {
	area := m.cfg.Bound.Quadrant(q)
	var spots []geom.Point
	for _, p := range m.cfg.Graph.Platforms() {
		lo, hi := max(p.XStart, area.MinX), min(p.XEnd, area.MaxX)
		if lo > hi || p.Y < area.MinY || p.Y > area.MaxY {
			continue
		}
		spots = append(spots, geom.Pt(random.Between(m.src, lo, hi), p.Y))
	}
	if spot, ok := random.Choose(m.src, spots); ok {
		return spot
	}
	mid := area.Mid()
	return area.Clamp(geom.Pt(
		random.Spread(m.src, mid.X, area.Width()/4),
		random.Spread(m.src, mid.Y, area.Height()/4),
	))
}
