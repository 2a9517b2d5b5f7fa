package input_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rotator/internal/game/input"
)

func TestBurst_Presses(t *testing.T) {
	b := input.Burst{input.KeyUp("a"), input.Tap("b", 0), input.KeyDown("c")}
	assert.False(t, b.Presses("a"))
	assert.True(t, b.Presses("b"))
	assert.True(t, b.Presses("c"))
	assert.Equal(t, "key_up(a) tap(b,0s) key_down(c)", b.String())
}

func TestCommand_After(t *testing.T) {
	c := input.Tap("x", 10*time.Millisecond).After(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, c.Delay)
	assert.Equal(t, 10*time.Millisecond, c.Hold)
}

func TestRecorder_CopiesBursts(t *testing.T) {
	var r input.Recorder
	b := input.Burst{input.Tap("a", 0)}
	require.NoError(t, r.Send(context.Background(), b))
	b[0] = input.Tap("z", 0)
	got := r.Bursts()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0][0].Key)
}

func TestLogSink_Send(t *testing.T) {
	s := input.NewLogSink(zaptest.NewLogger(t))
	assert.NoError(t, s.Send(context.Background(), input.Burst{input.MoveCursor(1, 2)}))
	assert.NoError(t, s.Send(context.Background(), nil))
}
