// Package gamemap holds the per-map content a run consumes: the rotation
// mode and its bounds, the authored action list, platforms and gaps.
package gamemap

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/pathing"
	"github.com/cory-johannsen/rotator/internal/game/rotation"
)

// AutoMobSettings configures auto-mobbing on a map.
type AutoMobSettings struct {
	Bound geom.Bound
	// UsePlatformBound derives the bound from the platforms when Bound is zero.
	UsePlatformBound   bool
	GracePeriod        time.Duration
	UseKeyWhilePathing bool
	DetectInterval     time.Duration
}

// PingPongSettings configures ping-pong on a map.
type PingPongSettings struct {
	Bound geom.Bound
	Step  int
}

// Destination is a navigation target reached before the rotation starts.
type Destination struct {
	Group string
	Path  string
}

// Map is the validated, immutable content of one map.
//
// Invariant: a Map is never mutated once loaded.
type Map struct {
	Name string
	// Identity is the minimap identity the detection collaborator reports
	// while the player is on this map.
	Identity string
	Mode     rotation.Mode
	Actions  []action.Action
	// MobbingKey is the key template used by auto-mobbing and ping-pong.
	MobbingKey *action.Action
	AutoMob    AutoMobSettings
	PingPong   PingPongSettings
	Platforms  []pathing.Platform
	Gaps       []pathing.Gap
	UpJumpOnly bool

	ScriptDir              string
	ScriptInstructionLimit int
	Destination            *Destination
}

// Validate checks the map against the character's key bindings.
//
// Postcondition: Returns nil, or an error listing every violation. Missing
// bindings wrap action.ErrCapabilityMissing.
func (m *Map) Validate(bindings action.Bindings) error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !m.Mode.Valid() {
		errs = append(errs, fmt.Errorf("mode %q is not recognised", m.Mode))
	}
	if err := action.ValidateList(m.Actions, bindings); err != nil {
		errs = append(errs, err)
	}
	if m.MobbingKey != nil {
		if err := m.MobbingKey.Validate(bindings); err != nil {
			errs = append(errs, fmt.Errorf("mobbing key: %w", err))
		}
	}
	for i, p := range m.Platforms {
		if p.XStart > p.XEnd {
			errs = append(errs, fmt.Errorf("platforms[%d]: x_start %d > x_end %d", i, p.XStart, p.XEnd))
		}
	}
	for i, g := range m.Gaps {
		if g.XStart > g.XEnd {
			errs = append(errs, fmt.Errorf("gaps[%d]: x_start %d > x_end %d", i, g.XStart, g.XEnd))
		}
	}
	if m.Destination != nil && (m.Destination.Group == "" || m.Destination.Path == "") {
		errs = append(errs, errors.New("navigation destination requires a group and a path"))
	}
	if len(errs) == 0 {
		if _, err := m.Rotation(pathing.DefaultThresholds()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("map %q: %w", m.Name, errors.Join(errs...))
}

// Graph builds the platform graph of the map. A map without platforms yields
// an empty graph and direct movement.
func (m *Map) Graph(th pathing.Thresholds) *pathing.Graph {
	if len(m.Platforms) == 0 {
		return nil
	}
	th.UpJumpOnly = th.UpJumpOnly || m.UpJumpOnly
	return pathing.NewGraph(m.Platforms, m.Gaps, th)
}

// PlatformBound returns the bounding box of the platforms.
func (m *Map) PlatformBound() (geom.Bound, bool) {
	if len(m.Platforms) == 0 {
		return geom.Bound{}, false
	}
	b := geom.Bound{MinX: m.Platforms[0].XStart, MaxX: m.Platforms[0].XEnd, MinY: m.Platforms[0].Y, MaxY: m.Platforms[0].Y}
	for _, p := range m.Platforms[1:] {
		b.MinX, b.MaxX = min(b.MinX, p.XStart), max(b.MaxX, p.XEnd)
		b.MinY, b.MaxY = min(b.MinY, p.Y), max(b.MaxY, p.Y)
	}
	return b, true
}

// Units groups the action list into normal and priority units.
func (m *Map) Units() (normal, priority []action.Unit) {
	return action.Partition(action.BuildUnits(m.Actions))
}

// Rotation builds the rotation configuration of the map.
//
// Postcondition: the returned Config passed Validate, or err is non-nil.
func (m *Map) Rotation(th pathing.Thresholds) (rotation.Config, error) {
	normal, _ := m.Units()
	cfg := rotation.Config{Mode: m.Mode, Units: normal}
	var key action.Action
	if m.MobbingKey != nil {
		key = *m.MobbingKey
	}
	switch m.Mode {
	case rotation.AutoMobbing:
		bound := m.AutoMob.Bound
		if bound.IsZero() && m.AutoMob.UsePlatformBound {
			bound, _ = m.PlatformBound()
		}
		cfg.AutoMob = rotation.AutoMobConfig{
			Bound:              bound,
			Key:                key,
			Graph:              m.Graph(th),
			GracePeriod:        m.AutoMob.GracePeriod,
			UseKeyWhilePathing: m.AutoMob.UseKeyWhilePathing,
			DetectInterval:     m.AutoMob.DetectInterval,
			Reach:              th.GrappleMax,
		}
	case rotation.PingPong:
		cfg.PingPong = rotation.PingPongConfig{Bound: m.PingPong.Bound, Key: key, Step: m.PingPong.Step}
	}
	if err := cfg.Validate(); err != nil {
		return rotation.Config{}, err
	}
	return cfg, nil
}
