package action

import (
	"time"
)

// Definition is the YAML representation of an Action. Durations are written
// in milliseconds.
type Definition struct {
	Name              string        `yaml:"name"`
	Kind              string        `yaml:"kind"`
	Condition         string        `yaml:"condition"`
	EveryMillis       int           `yaml:"every_millis"`
	Skill             string        `yaml:"skill"`
	Script            string        `yaml:"script"`
	QueueToFront      bool          `yaml:"queue_to_front"`
	Position          *yamlPosition `yaml:"position"`
	Key               string        `yaml:"key"`
	Count             int           `yaml:"count"`
	HoldMillis        int           `yaml:"key_hold_millis"`
	HoldBuffered      bool          `yaml:"key_hold_buffered_to_wait_after"`
	LinkKey           string        `yaml:"link_key"`
	LinkTiming        string        `yaml:"link_key_timing"`
	Direction         string        `yaml:"direction"`
	With              string        `yaml:"with"`
	WaitBeforeMillis  int           `yaml:"wait_before_millis"`
	WaitBeforeRandom  int           `yaml:"wait_before_millis_random_range"`
	WaitAfterMillis   int           `yaml:"wait_after_millis"`
	WaitAfterRandom   int           `yaml:"wait_after_millis_random_range"`
	WaitAfterBuffered string        `yaml:"wait_after_buffered"`
	ConfirmBuff       string        `yaml:"confirm_buff"`
	ConfirmMillis     int           `yaml:"confirm_within_millis"`
}

type yamlPosition struct {
	X              int  `yaml:"x"`
	XRandomRange   int  `yaml:"x_random_range"`
	Y              int  `yaml:"y"`
	AllowAdjusting bool `yaml:"allow_adjusting"`
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// ToAction converts the YAML form into an Action owned by the user. Empty
// enumerations take their neutral value.
//
// Postcondition: the returned Action still needs Validate.
func (d Definition) ToAction() Action {
	a := Action{
		Name:              d.Name,
		Kind:              Kind(d.Kind),
		Condition:         Condition(d.Condition),
		Origin:            OriginUser,
		Key:               d.Key,
		Count:             d.Count,
		HoldFor:           millis(d.HoldMillis),
		HoldBuffered:      d.HoldBuffered,
		LinkKey:           d.LinkKey,
		LinkTiming:        LinkTiming(d.LinkTiming),
		Direction:         Direction(d.Direction),
		With:              UseWith(d.With),
		WaitBefore:        millis(d.WaitBeforeMillis),
		WaitBeforeJitter:  millis(d.WaitBeforeRandom),
		WaitAfter:         millis(d.WaitAfterMillis),
		WaitAfterJitter:   millis(d.WaitAfterRandom),
		WaitAfterBuffered: BufferedWait(d.WaitAfterBuffered),
		Every:             millis(d.EveryMillis),
		Skill:             d.Skill,
		Script:            d.Script,
		QueueToFront:      d.QueueToFront,
		ConfirmBuff:       d.ConfirmBuff,
		ConfirmWithin:     millis(d.ConfirmMillis),
	}
	if a.Condition == "" {
		a.Condition = ConditionAny
	}
	if a.Direction == "" {
		a.Direction = DirectionAny
	}
	if a.With == "" {
		a.With = WithAny
	}
	if a.WaitAfterBuffered == "" {
		a.WaitAfterBuffered = BufferedNone
	}
	if d.Position != nil {
		a.Position = &Position{
			X:              d.Position.X,
			XRandomRange:   d.Position.XRandomRange,
			Y:              d.Position.Y,
			AllowAdjusting: d.Position.AllowAdjusting,
		}
	}
	return a
}

// FromDefinitions converts a list of YAML definitions.
func FromDefinitions(defs []Definition) []Action {
	out := make([]Action, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ToAction())
	}
	return out
}
