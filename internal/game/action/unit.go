package action

import (
	"github.com/google/uuid"
)

// Unit is the smallest schedulable piece of work: a single action, or a head
// action followed by the actions linked to it.
//
// Invariant: len(Members) >= 1 and only Members[0] may lack ConditionLinked.
type Unit struct {
	ID      string
	Members []Action
}

// Single wraps one action into a Unit with a fresh ID.
func Single(a Action) Unit {
	return Unit{ID: uuid.New().String(), Members: []Action{a}}
}

// Chain builds a linked Unit from a head and its followers.
func Chain(head Action, linked ...Action) Unit {
	members := make([]Action, 0, len(linked)+1)
	members = append(members, head)
	for _, a := range linked {
		a.Condition = ConditionLinked
		members = append(members, a)
	}
	return Unit{ID: uuid.New().String(), Members: members}
}

// Linked reports whether the unit is a chain of more than one action.
func (u Unit) Linked() bool { return len(u.Members) > 1 }

// Head returns the first member.
//
// Precondition: len(u.Members) >= 1.
func (u Unit) Head() Action { return u.Members[0] }

// Empty reports whether the unit carries no action.
func (u Unit) Empty() bool { return len(u.Members) == 0 }

// BuildUnits groups list into units. Each non-linked action starts a new unit
// and absorbs every immediately following linked action.
//
// Precondition: list passed ValidateList.
// Postcondition: the concatenation of the returned units' members equals list.
func BuildUnits(list []Action) []Unit {
	var units []Unit
	for _, a := range list {
		if a.Condition == ConditionLinked && len(units) > 0 {
			last := &units[len(units)-1]
			last.Members = append(last.Members, a)
			continue
		}
		units = append(units, Unit{ID: uuid.New().String(), Members: []Action{a}})
	}
	return units
}

// Partition splits units into the normal rotation (heads with ConditionAny)
// and priority units (heads with a trigger condition).
func Partition(units []Unit) (normal, priority []Unit) {
	for _, u := range units {
		if u.Head().IsPriority() {
			priority = append(priority, u)
		} else {
			normal = append(normal, u)
		}
	}
	return normal, priority
}
