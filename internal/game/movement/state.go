// Package movement implements the physical state machine that turns a
// waypoint list into primitive motions.
package movement

import "fmt"

// Kind is the tagged movement state.
type Kind string

const (
	Idle          Kind = "idle"
	Walking       Kind = "walking"
	Jumping       Kind = "jumping"
	DoubleJumping Kind = "double_jumping"
	Teleporting   Kind = "teleporting"
	Falling       Kind = "falling"
	UpJumping     Kind = "up_jumping"
	Grappling     Kind = "grappling"
	Unstucking    Kind = "unstucking"
)

// oneShot marks motions that are issued once and then observed until the
// player settles.
var oneShot = map[Kind]bool{
	Jumping:       true,
	DoubleJumping: true,
	Teleporting:   true,
	Falling:       true,
	UpJumping:     true,
	Grappling:     true,
	Unstucking:    true,
}

// transitions is the complete table of legal state changes.
var transitions = map[Kind]map[Kind]bool{
	Idle: {
		Walking: true, Jumping: true, DoubleJumping: true, Teleporting: true,
		Falling: true, UpJumping: true, Grappling: true, Unstucking: true,
	},
	Walking:       {Idle: true, Unstucking: true},
	Jumping:       {Idle: true, Unstucking: true},
	DoubleJumping: {Idle: true, Unstucking: true},
	Teleporting:   {Idle: true, Unstucking: true},
	Falling:       {Idle: true, Unstucking: true},
	UpJumping:     {Idle: true, Unstucking: true},
	Grappling:     {Idle: true, Unstucking: true},
	Unstucking:    {Idle: true},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Kind) bool {
	return transitions[from][to]
}

func mustTransition(from, to Kind) {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("movement: illegal transition %s -> %s", from, to))
	}
}
