package action_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/rotator/internal/game/action"
)

func keyAction(key string, cond action.Condition) action.Action {
	return action.Action{Kind: action.KindKey, Key: key, Condition: cond, Origin: action.OriginUser}
}

func TestBuildUnits_GroupsLinkedFollowers(t *testing.T) {
	list := []action.Action{
		keyAction("a", action.ConditionAny),
		keyAction("b", action.ConditionLinked),
		keyAction("c", action.ConditionLinked),
		keyAction("d", action.ConditionAny),
		{Kind: action.KindKey, Key: "e", Condition: action.ConditionEveryMillis, Every: time.Second},
		keyAction("f", action.ConditionLinked),
	}
	units := action.BuildUnits(list)
	require.Len(t, units, 3)
	assert.True(t, units[0].Linked())
	assert.Len(t, units[0].Members, 3)
	assert.False(t, units[1].Linked())
	assert.Equal(t, "e", units[2].Head().Key)
	assert.Equal(t, "f", units[2].Members[1].Key)

	normal, priority := action.Partition(units)
	assert.Len(t, normal, 2)
	assert.Len(t, priority, 1)
}

func TestValidateList_RejectsLeadingLinked(t *testing.T) {
	err := action.ValidateList([]action.Action{keyAction("a", action.ConditionLinked)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be linked")
}

func TestValidate_UnboundKeyIsCapabilityMissing(t *testing.T) {
	bindings := action.Bindings{"a": true}
	err := keyAction("z", action.ConditionAny).Validate(bindings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrCapabilityMissing))

	a := keyAction("a", action.ConditionAny)
	a.LinkTiming = action.LinkAlong
	err = a.Validate(bindings)
	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrCapabilityMissing))
}

func TestValidate_ConditionRequirements(t *testing.T) {
	a := keyAction("a", action.ConditionEveryMillis)
	assert.Error(t, a.Validate(nil))
	a.Every = time.Second
	assert.NoError(t, a.Validate(nil))

	b := keyAction("a", action.ConditionAny)
	b.QueueToFront = true
	assert.Error(t, b.Validate(nil))

	m := action.Action{Kind: action.KindMove, Condition: action.ConditionAny}
	assert.Error(t, m.Validate(nil))
}

func TestDefinition_ToAction(t *testing.T) {
	doc := `
name: buff
kind: key
key: f1
count: 2
key_hold_millis: 150
link_key: shift
link_key_timing: along
wait_after_millis: 500
wait_after_buffered: interruptible
position: {x: 10, y: 20, x_random_range: 3}
`
	var d action.Definition
	require.NoError(t, yaml.Unmarshal([]byte(doc), &d))
	a := d.ToAction()
	assert.Equal(t, action.KindKey, a.Kind)
	assert.Equal(t, action.ConditionAny, a.Condition)
	assert.Equal(t, 150*time.Millisecond, a.HoldFor)
	assert.Equal(t, action.LinkAlong, a.LinkTiming)
	assert.Equal(t, action.BufferedInterruptible, a.WaitAfterBuffered)
	require.NotNil(t, a.Position)
	assert.Equal(t, 3, a.Position.XRandomRange)
	assert.NoError(t, a.Validate(nil))
}

func TestProperty_BuildUnitsPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		list := make([]action.Action, n)
		for i := range list {
			cond := action.ConditionAny
			if i > 0 && rapid.Bool().Draw(t, "linked") {
				cond = action.ConditionLinked
			}
			list[i] = keyAction(string(rune('a'+i)), cond)
		}
		var flat []action.Action
		for _, u := range action.BuildUnits(list) {
			if u.Head().Condition == action.ConditionLinked {
				t.Fatalf("unit headed by linked action")
			}
			flat = append(flat, u.Members...)
		}
		if len(flat) != len(list) {
			t.Fatalf("lost actions: %d vs %d", len(flat), len(list))
		}
		for i := range flat {
			if flat[i].Key != list[i].Key {
				t.Fatalf("order changed at %d", i)
			}
		}
	})
}
