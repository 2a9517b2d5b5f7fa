// Package navigation drives cross-map portal traversal over recorded paths.
package navigation

import (
	"errors"
	"fmt"
)

// ErrNavigationUnreachable reports a destination that cannot be reached by
// ordinary movement, or whose arrival could not be confirmed within the
// configured attempts.
var ErrNavigationUnreachable = errors.New("navigation unreachable")

// Transition is how a Point moves the player onto the next Path.
type Transition string

const (
	// TransitionPortal walks to the point and presses the portal key.
	TransitionPortal Transition = "portal"
	// TransitionAutoPosition relies on the game repositioning the player. It
	// cannot be represented by ordinary movement.
	TransitionAutoPosition Transition = "auto_position"
)

// Point is a portal coordinate on a Path leading to another Path.
type Point struct {
	X          int
	Y          int
	Transition Transition
	// Key overrides the portal key for this point.
	Key string
	// Next is the ID of the Path reached through this point. Empty marks a
	// dead end.
	Next string
}

// Path is one recognizable map: a minimap identity plus its portal points.
type Path struct {
	ID       string
	Identity string
	Points   []Point
}

// Group is a named set of Paths forming a navigation graph.
//
// Invariant: path IDs are unique and every non-empty Point.Next names a path
// of the group.
type Group struct {
	Name  string
	Paths map[string]*Path
	// order keeps the authored order for deterministic traversal.
	order []string
}

// Path returns the path with id.
func (g *Group) Path(id string) (*Path, bool) {
	p, ok := g.Paths[id]
	return p, ok
}

// ByIdentity returns the first path whose minimap identity equals identity.
func (g *Group) ByIdentity(identity string) (*Path, bool) {
	for _, id := range g.order {
		if p := g.Paths[id]; p.Identity == identity {
			return p, true
		}
	}
	return nil, false
}

// Validate checks the structural invariants of the group.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (g *Group) Validate() error {
	if g.Name == "" {
		return errors.New("group name must not be empty")
	}
	if len(g.Paths) == 0 {
		return fmt.Errorf("group %q: must contain at least one path", g.Name)
	}
	for _, id := range g.order {
		p := g.Paths[id]
		if p.Identity == "" {
			return fmt.Errorf("group %q: path %q: identity must not be empty", g.Name, id)
		}
		for i, pt := range p.Points {
			switch pt.Transition {
			case TransitionPortal, TransitionAutoPosition:
			default:
				return fmt.Errorf("group %q: path %q: point %d: transition %q is not recognised", g.Name, id, i, pt.Transition)
			}
			if pt.Next == "" {
				continue
			}
			if _, ok := g.Paths[pt.Next]; !ok {
				return fmt.Errorf("group %q: path %q: point %d targets unknown path %q", g.Name, id, i, pt.Next)
			}
		}
	}
	return nil
}

// Hop is one traversal step: take Point on From to arrive at To.
type Hop struct {
	From  *Path
	Point Point
	To    *Path
}

// Route finds the fewest-hop route from the path named from to the path named
// to by breadth-first search over Path, Point and next Path. Auto-position
// points are never traversed.
//
// Postcondition: an empty route means from == to. A missing route wraps
// ErrNavigationUnreachable.
func (g *Group) Route(from, to string) ([]Hop, error) {
	if _, ok := g.Paths[from]; !ok {
		return nil, fmt.Errorf("route %s -> %s: unknown start path: %w", from, to, ErrNavigationUnreachable)
	}
	if _, ok := g.Paths[to]; !ok {
		return nil, fmt.Errorf("route %s -> %s: unknown target path: %w", from, to, ErrNavigationUnreachable)
	}
	if from == to {
		return nil, nil
	}

	prev := map[string]Hop{}
	visited := map[string]bool{from: true}
	queue := []string{from}
	blocked := false
	for len(queue) > 0 {
		cur := g.Paths[queue[0]]
		queue = queue[1:]
		for _, pt := range cur.Points {
			if pt.Next == "" || visited[pt.Next] {
				continue
			}
			if pt.Transition == TransitionAutoPosition {
				blocked = true
				continue
			}
			visited[pt.Next] = true
			prev[pt.Next] = Hop{From: cur, Point: pt, To: g.Paths[pt.Next]}
			if pt.Next == to {
				return unwind(prev, from, to), nil
			}
			queue = append(queue, pt.Next)
		}
	}
	if blocked {
		return nil, fmt.Errorf("route %s -> %s requires auto positioning: %w", from, to, ErrNavigationUnreachable)
	}
	return nil, fmt.Errorf("route %s -> %s: no path: %w", from, to, ErrNavigationUnreachable)
}

func unwind(prev map[string]Hop, from, to string) []Hop {
	var hops []Hop
	for at := to; at != from; {
		h := prev[at]
		hops = append([]Hop{h}, hops...)
		at = h.From.ID
	}
	return hops
}
