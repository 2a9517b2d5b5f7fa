// Package perception holds the structured read of on-screen game state that
// the detection collaborator publishes and the scheduler consumes.
package perception

import (
	"sync/atomic"
	"time"

	"github.com/cory-johannsen/rotator/internal/game/geom"
)

// Affiliation classifies another player seen on the minimap.
type Affiliation string

const (
	AffiliationFriend    Affiliation = "friend"
	AffiliationGuildmate Affiliation = "guildmate"
	AffiliationStranger  Affiliation = "stranger"
)

// Capabilities are the movement abilities the character can currently use.
type Capabilities struct {
	CanDoubleJump bool `yaml:"can_double_jump"`
	CanTeleport   bool `yaml:"can_teleport"`
	CanGrapple    bool `yaml:"can_grapple"`
	CanUpJump     bool `yaml:"can_up_jump"`
}

// Sighting is another player detected on the minimap.
type Sighting struct {
	Position    geom.Point  `yaml:"position"`
	Affiliation Affiliation `yaml:"affiliation"`
}

// Snapshot is one completed detection cycle.
//
// Invariant: a published Snapshot is never mutated.
type Snapshot struct {
	Frame      uint64    `yaml:"frame"`
	CapturedAt time.Time `yaml:"-"`

	// Player is nil when the player marker was not found.
	Player       *geom.Point     `yaml:"player"`
	Capabilities Capabilities    `yaml:"capabilities"`
	Mobs         []geom.Point    `yaml:"mobs"`
	Players      []Sighting      `yaml:"players"`
	Buffs        map[string]bool `yaml:"buffs"`
	Skills       map[string]bool `yaml:"skills"`

	MinimapIdentity   string  `yaml:"minimap_identity"`
	MinimapConfidence float64 `yaml:"minimap_confidence"`

	Rune      *geom.Point `yaml:"rune"`
	EliteBoss bool        `yaml:"elite_boss"`
	Dead      bool        `yaml:"dead"`
	// EscMenu is set while the settings menu opened by escape is on screen.
	EscMenu         bool `yaml:"esc_menu"`
	EssenceDepleted bool `yaml:"essence_depleted"`
}

// HasBuff reports whether buff was detected active.
func (s *Snapshot) HasBuff(buff string) bool {
	return s != nil && s.Buffs[buff]
}

// SkillReady reports whether skill was detected off cooldown.
func (s *Snapshot) SkillReady(skill string) bool {
	return s != nil && s.Skills[skill]
}

// PlayersSeen counts sightings with affiliation a.
func (s *Snapshot) PlayersSeen(a Affiliation) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Players {
		if p.Affiliation == a {
			n++
		}
	}
	return n
}

// Age returns how long ago the snapshot was captured.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Store is the single-slot handoff between the detection pipeline and the
// scheduler. Publishing replaces the slot wholesale; reading never blocks.
type Store struct {
	latest atomic.Pointer[Snapshot]
}

// Publish replaces the latest snapshot.
//
// Precondition: s must not be mutated after the call.
func (st *Store) Publish(s *Snapshot) {
	st.latest.Store(s)
}

// Latest returns the most recently published snapshot, or nil.
func (st *Store) Latest() *Snapshot {
	return st.latest.Load()
}
