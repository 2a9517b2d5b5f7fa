package navigation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/notify"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/priority"
	"github.com/cory-johannsen/rotator/internal/game/retry"
)

const (
	// MinConfidence is the minimap match confidence required to trust an
	// identity.
	MinConfidence = 0.75
	// DefaultAttempts bounds consecutive unconfirmed arrivals.
	DefaultAttempts = 3
	// DefaultConfirmWithin is how long an arrival may take to be confirmed.
	DefaultConfirmWithin = 2 * time.Second
)

// Config tunes the Controller.
type Config struct {
	PortalKey     string
	Attempts      int
	ConfirmWithin time.Duration
}

// Controller walks a route of portal hops as a priority trigger of rank
// navigation. It is idle until Navigate is called and returns to idle on
// arrival or failure. On failure the player stays where it is and a
// NavigationUnreachable event is emitted.
type Controller struct {
	cfg      Config
	groups   map[string]*Group
	notifier notify.Notifier
	logger   *zap.Logger
	attempts *retry.Counter

	group    *Group
	target   string
	route    []Hop
	routed   bool
	hop      int
	awaiting bool
	since    time.Time
	err      error
}

// NewController creates an idle Controller over groups.
//
// Precondition: notifier and logger must be non-nil.
func NewController(cfg Config, groups map[string]*Group, notifier notify.Notifier, logger *zap.Logger) *Controller {
	if notifier == nil || logger == nil {
		panic("navigation.NewController: notifier and logger must be non-nil")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.ConfirmWithin <= 0 {
		cfg.ConfirmWithin = DefaultConfirmWithin
	}
	return &Controller{
		cfg:      cfg,
		groups:   groups,
		notifier: notifier,
		logger:   logger,
		attempts: retry.NewCounter("navigation", cfg.Attempts),
	}
}

// SetGroups replaces the known groups and cancels any navigation.
func (c *Controller) SetGroups(groups map[string]*Group) {
	c.groups = groups
	c.Cancel()
}

// Navigate starts travelling to the path named target of group.
func (c *Controller) Navigate(group, target string) error {
	g, ok := c.groups[group]
	if !ok {
		return fmt.Errorf("navigate: unknown group %q", group)
	}
	if _, ok := g.Path(target); !ok {
		return fmt.Errorf("navigate: group %q has no path %q", group, target)
	}
	c.Cancel()
	c.group, c.target = g, target
	c.attempts.Rearm()
	c.logger.Info("navigation started", zap.String("group", group), zap.String("target", target))
	return nil
}

// Cancel forgets the current navigation.
func (c *Controller) Cancel() {
	c.group, c.target = nil, ""
	c.route, c.routed, c.hop = nil, false, 0
	c.awaiting, c.since = false, time.Time{}
}

// Active reports whether a navigation is in progress.
func (c *Controller) Active() bool { return c.group != nil }

// Err returns the reason of the last failed navigation, or nil.
func (c *Controller) Err() error { return c.err }

// Hop returns the index of the next hop and the route length.
func (c *Controller) Hop() (next, total int) { return c.hop, len(c.route) }

func (c *Controller) Name() string        { return "navigation" }
func (c *Controller) Rank() priority.Rank { return priority.RankNavigation }
func (c *Controller) QueueToFront() bool  { return false }

func (c *Controller) identify(snap *perception.Snapshot) (*Path, bool) {
	if snap == nil || snap.MinimapConfidence < MinConfidence {
		return nil, false
	}
	return c.group.ByIdentity(snap.MinimapIdentity)
}

// Ready plans the route on first sight of a known map, confirms arrival of a
// dispatched hop and reports whether a hop is waiting to be dispatched.
func (c *Controller) Ready(now time.Time, snap *perception.Snapshot) bool {
	if c.group == nil {
		return false
	}
	here, known := c.identify(snap)
	if !c.routed {
		if !known {
			return c.retry(now, "minimap identity not matched")
		}
		return c.plan(now, here.ID)
	}
	if !c.awaiting {
		return true
	}

	expected := c.route[c.hop].To
	if known && here.ID == expected.ID {
		_ = c.attempts.RecordAttempt(true)
		c.awaiting, c.since = false, time.Time{}
		c.hop++
		c.logger.Info("navigation hop confirmed", zap.String("path", here.ID), zap.Int("hop", c.hop))
		if c.hop == len(c.route) {
			c.arrive()
			return false
		}
		return true
	}
	if now.Sub(c.since) < c.cfg.ConfirmWithin {
		return false
	}
	c.awaiting = false
	if !c.retry(now, fmt.Sprintf("arrival at %s not confirmed", expected.ID)) {
		return false
	}
	if known && here.ID != c.route[c.hop].From.ID {
		return c.plan(now, here.ID)
	}
	return true
}

// plan routes from the path named from to the target.
func (c *Controller) plan(now time.Time, from string) bool {
	route, err := c.group.Route(from, c.target)
	if err != nil {
		c.fail(now, err)
		return false
	}
	c.route, c.routed, c.hop = route, true, 0
	c.since = time.Time{}
	if len(route) == 0 {
		c.arrive()
		return false
	}
	c.logger.Info("navigation route planned",
		zap.String("from", from),
		zap.String("target", c.target),
		zap.Int("hops", len(route)),
	)
	return true
}

// retry spends one attempt once the confirmation window has elapsed.
//
// Postcondition: returns false while waiting or after the attempts ran out.
func (c *Controller) retry(now time.Time, reason string) bool {
	if c.since.IsZero() {
		c.since = now
		return false
	}
	if now.Sub(c.since) < c.cfg.ConfirmWithin {
		return false
	}
	c.since = now
	if err := c.attempts.RecordAttempt(false); err != nil {
		c.fail(now, fmt.Errorf("%s: %w: %w", reason, ErrNavigationUnreachable, err))
		return false
	}
	c.logger.Debug("navigation retry", zap.String("reason", reason), zap.Int("failures", c.attempts.Failures()))
	return c.routed
}

// Unit builds the current hop: move to the portal point, then press the
// portal key.
func (c *Controller) Unit(now time.Time, _ *perception.Snapshot) (action.Unit, bool) {
	if c.group == nil || c.hop >= len(c.route) {
		return action.Unit{}, false
	}
	hop := c.route[c.hop]
	if hop.Point.Transition != TransitionPortal {
		c.fail(now, fmt.Errorf("point to %s requires auto positioning: %w", hop.To.ID, ErrNavigationUnreachable))
		return action.Unit{}, false
	}
	key := hop.Point.Key
	if key == "" {
		key = c.cfg.PortalKey
	}
	move := action.Action{
		Name:      "navigate_" + hop.To.ID,
		Kind:      action.KindMove,
		Condition: action.ConditionAny,
		Origin:    action.OriginSystem,
		Task:      action.TaskPortal,
		Position:  &action.Position{X: hop.Point.X, Y: hop.Point.Y},
	}
	portal := action.Action{
		Name:   "portal_" + hop.To.ID,
		Kind:   action.KindKey,
		Origin: action.OriginSystem,
		Task:   action.TaskPortal,
		Key:    key,
		Count:  1,
	}
	return action.Chain(move, portal), true
}

// Done starts the arrival confirmation window after a completed hop. A failed
// hop spends one attempt and is re-dispatched.
func (c *Controller) Done(now time.Time, err error) error {
	if c.group == nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("navigation hop failed", zap.Error(err))
		if rerr := c.attempts.RecordAttempt(false); rerr != nil {
			c.fail(now, fmt.Errorf("%w: %w", ErrNavigationUnreachable, err))
		}
		return nil
	}
	c.awaiting, c.since = true, now
	return nil
}

func (c *Controller) arrive() {
	c.logger.Info("navigation arrived", zap.String("target", c.target))
	c.err = nil
	c.Cancel()
}

func (c *Controller) fail(now time.Time, err error) {
	c.logger.Warn("navigation failed", zap.String("target", c.target), zap.Error(err))
	c.err = err
	c.notifier.Notify(notify.New(notify.NavigationUnreachable, now, c.target))
	c.Cancel()
}
