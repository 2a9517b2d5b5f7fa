package scheduler

import (
	"errors"

	"github.com/cory-johannsen/rotator/internal/game/action"
	"github.com/cory-johannsen/rotator/internal/game/executor"
	"github.com/cory-johannsen/rotator/internal/game/navigation"
	"github.com/cory-johannsen/rotator/internal/game/retry"
)

// Error taxonomy. The kinds owned by other packages are re-exported so
// callers can match every scheduler fault against this package with errors.Is.
var (
	// ErrDetectionStale reports a snapshot older than the staleness tolerance.
	// The scheduler keeps ticking but makes no movement decision.
	ErrDetectionStale = errors.New("detection stale")
	// ErrUnknownAction reports a remote action kind with no key binding.
	ErrUnknownAction = errors.New("unknown action kind")
	// ErrCommandQueueFull reports a control command dropped because the
	// scheduler has not drained its command queue.
	ErrCommandQueueFull = errors.New("command queue full")

	ErrActionCastUnconfirmed = executor.ErrActionCastUnconfirmed
	ErrNavigationUnreachable = navigation.ErrNavigationUnreachable
	ErrCapabilityMissing     = action.ErrCapabilityMissing
	ErrRetryLimitExceeded    = retry.ErrRetryLimitExceeded
)
