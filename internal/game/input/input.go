// Package input defines the primitive commands the scheduler emits to the
// input-synthesis collaborator.
package input

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Op is a primitive input operation.
type Op string

const (
	OpKeyDown    Op = "key_down"
	OpKeyUp      Op = "key_up"
	OpKeyTap     Op = "key_tap"
	OpMoveCursor Op = "move_cursor"
)

// Command is one primitive input. Delay is a hint for how long the
// synthesizer should wait after performing the command.
type Command struct {
	Op    Op
	Key   string
	Hold  time.Duration
	X, Y  int
	Delay time.Duration
}

// KeyDown presses key without releasing it.
func KeyDown(key string) Command { return Command{Op: OpKeyDown, Key: key} }

// KeyUp releases key.
func KeyUp(key string) Command { return Command{Op: OpKeyUp, Key: key} }

// Tap presses and releases key, holding it for hold.
func Tap(key string, hold time.Duration) Command {
	return Command{Op: OpKeyTap, Key: key, Hold: hold}
}

// MoveCursor moves the mouse cursor to (x, y) in screen space.
func MoveCursor(x, y int) Command { return Command{Op: OpMoveCursor, X: x, Y: y} }

// After returns a copy of c with the delay hint set.
func (c Command) After(d time.Duration) Command {
	c.Delay = d
	return c
}

// String renders the command for logs and test failures.
func (c Command) String() string {
	switch c.Op {
	case OpKeyTap:
		return fmt.Sprintf("tap(%s,%s)", c.Key, c.Hold)
	case OpMoveCursor:
		return fmt.Sprintf("cursor(%d,%d)", c.X, c.Y)
	default:
		return fmt.Sprintf("%s(%s)", c.Op, c.Key)
	}
}

// Burst is the ordered sequence of commands emitted in one tick.
type Burst []Command

// String joins the commands of the burst.
func (b Burst) String() string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Presses reports whether the burst presses key, by tap or key_down.
func (b Burst) Presses(key string) bool {
	for _, c := range b {
		if c.Key == key && (c.Op == OpKeyTap || c.Op == OpKeyDown) {
			return true
		}
	}
	return false
}

// Sink receives emitted bursts.
type Sink interface {
	// Send performs every command of b in order.
	Send(ctx context.Context, b Burst) error
}

// LogSink is a Sink that only logs bursts. It stands in for a real input
// synthesizer when running against recorded perception.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
//
// Precondition: logger must be non-nil.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send logs b at debug level.
func (s *LogSink) Send(_ context.Context, b Burst) error {
	if len(b) == 0 {
		return nil
	}
	s.logger.Debug("input burst", zap.Int("commands", len(b)), zap.Stringer("burst", b))
	return nil
}

// Recorder is a Sink that keeps every burst it receives.
type Recorder struct {
	mu     sync.Mutex
	bursts []Burst
}

// Send appends a copy of b.
func (r *Recorder) Send(_ context.Context, b Burst) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bursts = append(r.bursts, append(Burst(nil), b...))
	return nil
}

// Bursts returns a copy of all recorded bursts.
func (r *Recorder) Bursts() []Burst {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Burst(nil), r.bursts...)
}
