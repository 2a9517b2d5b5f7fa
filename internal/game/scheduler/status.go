package scheduler

import "time"

// State is the run state of the scheduler.
type State string

const (
	// Idle runs nothing but injected actions.
	Idle State = "idle"
	// Running runs the rotation and the priority triggers.
	Running State = "running"
	// Suspended runs nothing but injected actions until Start.
	Suspended State = "suspended"
	// Halting lets a linked chain or a return to town finish before Idle.
	Halting State = "halting"
)

// Status is the pollable view of the scheduler. It is replaced wholesale at
// the end of every tick.
type Status struct {
	State         State
	Running       bool
	Suspended     bool
	CurrentAction string
	Map           string
	Uptime        time.Duration
	LastFrame     uint64
	Stale         bool
	Queued        []string
}
