package perception_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rotator/internal/game/geom"
	"github.com/cory-johannsen/rotator/internal/game/perception"
)

func TestStore_LatestWins(t *testing.T) {
	var st perception.Store
	assert.Nil(t, st.Latest())
	st.Publish(&perception.Snapshot{Frame: 1})
	st.Publish(&perception.Snapshot{Frame: 2})
	require.NotNil(t, st.Latest())
	assert.Equal(t, uint64(2), st.Latest().Frame)
}

func TestStore_ConcurrentPublishAndRead(t *testing.T) {
	var st perception.Store
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 500; i++ {
			st.Publish(&perception.Snapshot{Frame: i})
		}
	}()
	go func() {
		defer wg.Done()
		var last uint64
		for i := 0; i < 500; i++ {
			if s := st.Latest(); s != nil {
				assert.GreaterOrEqual(t, s.Frame, last)
				last = s.Frame
			}
		}
	}()
	wg.Wait()
}

func TestSnapshot_Helpers(t *testing.T) {
	s := &perception.Snapshot{
		Buffs:  map[string]bool{"rune": true},
		Skills: map[string]bool{"erda": true},
		Players: []perception.Sighting{
			{Position: geom.Pt(1, 1), Affiliation: perception.AffiliationStranger},
			{Position: geom.Pt(2, 1), Affiliation: perception.AffiliationStranger},
			{Position: geom.Pt(3, 1), Affiliation: perception.AffiliationFriend},
		},
	}
	assert.True(t, s.HasBuff("rune"))
	assert.False(t, s.HasBuff("booster"))
	assert.True(t, s.SkillReady("erda"))
	assert.Equal(t, 2, s.PlayersSeen(perception.AffiliationStranger))

	var nilSnap *perception.Snapshot
	assert.False(t, nilSnap.HasBuff("rune"))
	assert.Zero(t, nilSnap.PlayersSeen(perception.AffiliationFriend))
}

func TestReplay_PublishesFrames(t *testing.T) {
	doc := `
interval_millis: 1
frames:
  - player: {x: 10, y: 20}
    minimap_identity: henesys
    minimap_confidence: 0.9
  - player: {x: 11, y: 20}
    mobs: [{x: 50, y: 20}]
`
	var st perception.Store
	r, err := perception.LoadReplayFromBytes([]byte(doc), &st, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	last := st.Latest()
	require.NotNil(t, last)
	assert.Equal(t, uint64(2), last.Frame)
	require.NotNil(t, last.Player)
	assert.Equal(t, 11, last.Player.X)
	assert.Len(t, last.Mobs, 1)
	assert.False(t, last.CapturedAt.IsZero())
}

func TestReplay_RejectsEmpty(t *testing.T) {
	var st perception.Store
	_, err := perception.LoadReplayFromBytes([]byte("frames: []"), &st, zaptest.NewLogger(t))
	assert.Error(t, err)
}
