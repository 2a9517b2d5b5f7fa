package perception

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// yamlRecording is the on-disk form of a recorded detection session.
type yamlRecording struct {
	IntervalMillis int        `yaml:"interval_millis"`
	Loop           bool       `yaml:"loop"`
	Frames         []Snapshot `yaml:"frames"`
}

// Replay publishes recorded snapshots into a Store at a fixed cadence. It
// stands in for the capture and detection pipeline.
type Replay struct {
	frames   []Snapshot
	interval time.Duration
	loop     bool
	store    *Store
	logger   *zap.Logger
	now      func() time.Time
}

// LoadReplay reads a recording from path.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Returns a Replay with at least one frame, or a non-nil error.
func LoadReplay(path string, store *Store, logger *zap.Logger) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording %s: %w", path, err)
	}
	return LoadReplayFromBytes(data, store, logger)
}

// LoadReplayFromBytes parses a recording.
//
// Postcondition: Returns a Replay with at least one frame, or a non-nil error.
func LoadReplayFromBytes(data []byte, store *Store, logger *zap.Logger) (*Replay, error) {
	var rec yamlRecording
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing recording YAML: %w", err)
	}
	if len(rec.Frames) == 0 {
		return nil, errors.New("recording has no frames")
	}
	interval := time.Duration(rec.IntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Replay{
		frames:   rec.Frames,
		interval: interval,
		loop:     rec.Loop,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Len returns the number of recorded frames.
func (r *Replay) Len() int { return len(r.frames) }

// Run publishes one frame per interval until ctx is cancelled or, for a
// non-looping recording, the last frame has been published. Each published
// frame is a fresh copy stamped with the current time.
//
// Postcondition: Returns nil on cancellation or completion.
func (r *Replay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var frame uint64
	for i := 0; ; i++ {
		if i == len(r.frames) {
			if !r.loop {
				r.logger.Info("replay finished", zap.Uint64("frames", frame))
				return nil
			}
			i = 0
		}
		frame++
		snap := r.frames[i]
		snap.Frame = frame
		snap.CapturedAt = r.now()
		r.store.Publish(&snap)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
