// Package rotation selects the next normal unit according to the map's
// rotation mode.
package rotation

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/random"
)

// Mode is the rotation algorithm.
type Mode string

const (
	StartToEnd            Mode = "start_to_end"
	StartToEndThenReverse Mode = "start_to_end_then_reverse"
	AutoMobbing           Mode = "auto_mobbing"
	PingPong              Mode = "ping_pong"
)

// Valid reports whether m names a rotation mode.
func (m Mode) Valid() bool {
	switch m {
	case StartToEnd, StartToEndThenReverse, AutoMobbing, PingPong:
		return true
	}
	return false
}

// Config selects the mode and carries what each mode consumes.
type Config struct {
	Mode Mode
	// Units is the normal rotation. AutoMobbing and PingPong ignore it.
	Units    []action.Unit
	AutoMob  AutoMobConfig
	PingPong PingPongConfig
}

// Validate checks that the selected mode has what it needs.
func (c Config) Validate() error {
	var errs []error
	if !c.Mode.Valid() {
		errs = append(errs, fmt.Errorf("rotation mode %q is not recognised", c.Mode))
	}
	for i, u := range c.Units {
		if u.Empty() {
			errs = append(errs, fmt.Errorf("units[%d] is empty", i))
		} else if u.Head().IsPriority() {
			errs = append(errs, fmt.Errorf("units[%d] %s is a priority action", i, u.Head().Label()))
		}
	}
	switch c.Mode {
	case AutoMobbing:
		if err := c.AutoMob.Validate(); err != nil {
			errs = append(errs, err)
		}
	case PingPong:
		if err := c.PingPong.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Controller owns the rotation state: cursor, direction and the mode specific
// controllers.
//
// Invariant: the mode changes only through Reconfigure.
// Invariant: 0 <= index < len(units) whenever units is non-empty.
type Controller struct {
	cfg    Config
	src    random.Source
	logger *zap.Logger

	index int
	dir   int

	autoMob  *AutoMob
	pingPong *Sweeper
}

// NewController creates a Controller at the start of its rotation.
//
// Precondition: src and logger must be non-nil.
// Postcondition: Returns a non-nil Controller or a validation error.
func NewController(cfg Config, src random.Source, logger *zap.Logger) (*Controller, error) {
	if src == nil || logger == nil {
		panic("rotation.NewController: src and logger must be non-nil")
	}
	c := &Controller{src: src, logger: logger}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure replaces the rotation and restarts it.
//
// Postcondition: on error the previous configuration is kept.
func (c *Controller) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reconfiguring rotation: %w", err)
	}
	prev := c.cfg.Mode
	c.cfg = cfg
	c.autoMob, c.pingPong = nil, nil
	switch cfg.Mode {
	case AutoMobbing:
		c.autoMob = NewAutoMob(cfg.AutoMob, c.src, c.logger)
	case PingPong:
		c.pingPong = NewSweeper(cfg.PingPong, c.src, c.logger)
	}
	c.Reset()
	if prev != cfg.Mode {
		c.logger.Info("rotation mode", zap.String("from", string(prev)), zap.String("to", string(cfg.Mode)))
	}
	return nil
}

// Reset rewinds the cursor and restarts the mode specific controllers.
func (c *Controller) Reset() {
	c.Rewind()
	if c.autoMob != nil {
		c.autoMob.Reset()
	}
	if c.pingPong != nil {
		c.pingPong.Reset()
	}
}

// Rewind moves the cursor of the sequential modes back to the first unit.
func (c *Controller) Rewind() {
	c.index = 0
	c.dir = 1
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// Index returns the cursor of the sequential modes.
func (c *Controller) Index() int { return c.index }

// Direction returns +1 while a sequential rotation moves forward and -1 while
// it reverses.
func (c *Controller) Direction() int { return c.dir }

// AutoMob returns the auto-mobbing controller, or nil in other modes.
func (c *Controller) AutoMob() *AutoMob { return c.autoMob }

// Sweeper returns the ping-pong sweeper, or nil in other modes.
func (c *Controller) Sweeper() *Sweeper { return c.pingPong }

// Next returns the next normal unit.
//
// Postcondition: ok is false when the mode has nothing to run this tick.
func (c *Controller) Next(now time.Time, snap *perception.Snapshot) (action.Unit, bool) {
	switch c.cfg.Mode {
	case AutoMobbing:
		return c.autoMob.Next(now, snap)
	case PingPong:
		return c.pingPong.Next(now, snap)
	}
	n := len(c.cfg.Units)
	if n == 0 {
		return action.Unit{}, false
	}
	u := c.cfg.Units[c.index]
	if c.cfg.Mode == StartToEnd {
		c.index = (c.index + 1) % n
		return u, true
	}
	if n > 1 {
		if next := c.index + c.dir; next < 0 || next >= n {
			c.dir = -c.dir
		}
		c.index += c.dir
	}
	return u, true
}
