package scheduler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rotator/internal/game/action"
)

type commandKind string

const (
	cmdStart       commandKind = "start"
	cmdStop        commandKind = "stop"
	cmdSuspend     commandKind = "suspend"
	cmdAction      commandKind = "action"
	cmdNavigate    commandKind = "navigate"
	cmdReconfigure commandKind = "reconfigure"
)

// command is a control request applied by the tick goroutine.
type command struct {
	kind         commandKind
	returnToTown bool
	unit         action.Unit
	group        string
	target       string
	plan         *Plan
}

func (s *Scheduler) send(c command) error {
	select {
	case s.commands <- c:
		return nil
	default:
		s.logger.Warn("control command dropped", zap.String("command", string(c.kind)))
		return fmt.Errorf("%s: %w", c.kind, ErrCommandQueueFull)
	}
}

// Start begins, or resumes, running the rotation at the next tick. Failure
// counters are re-armed.
func (s *Scheduler) Start() error { return s.send(command{kind: cmdStart}) }

// Stop ends the run. A non-linked unit is aborted immediately; a linked chain
// finishes first. With returnToTown the return-to-town key is pressed before
// the scheduler goes idle.
func (s *Scheduler) Stop(returnToTown bool) error {
	return s.send(command{kind: cmdStop, returnToTown: returnToTown})
}

// Suspend pauses the run until Start. Abort semantics match Stop.
func (s *Scheduler) Suspend() error { return s.send(command{kind: cmdSuspend}) }

// Action injects count presses of the key bound to kind. Injected actions run
// ahead of every trigger and also while the scheduler is idle or suspended.
func (s *Scheduler) Action(kind string, count int) error {
	key, ok := s.cfg.Actions[kind]
	if !ok {
		return fmt.Errorf("action %q: %w", kind, ErrUnknownAction)
	}
	if count <= 0 {
		count = 1
	}
	a := action.Action{
		Name:      kind,
		Kind:      action.KindKey,
		Condition: action.ConditionAny,
		Origin:    action.OriginSystem,
		Key:       key,
		Count:     count,
	}
	return s.send(command{kind: cmdAction, unit: action.Single(a)})
}

// Navigate travels to the path named target of group.
func (s *Scheduler) Navigate(group, target string) error {
	return s.send(command{kind: cmdNavigate, group: group, target: target})
}

// Reconfigure replaces the plan at the next safe boundary: the first tick on
// which no linked chain is in progress.
func (s *Scheduler) Reconfigure(p Plan) error {
	return s.send(command{kind: cmdReconfigure, plan: &p})
}
