// Package pathing plans waypoint routes across a map's platform segments.
package pathing

import (
	"container/heap"
	"sort"

	"github.com/cory-johannsen/rotator/internal/game/geom"
)

// Platform is a horizontal walkable segment.
//
// Invariant: XStart <= XEnd.
type Platform struct {
	XStart int `yaml:"x_start"`
	XEnd   int `yaml:"x_end"`
	Y      int `yaml:"y"`
}

// Covers reports whether x lies on the platform.
func (p Platform) Covers(x int) bool { return x >= p.XStart && x <= p.XEnd }

// Mid returns the platform center.
func (p Platform) Mid() geom.Point { return geom.Pt((p.XStart+p.XEnd)/2, p.Y) }

// Gap is a configured crossing between two platforms at the same level that
// are further apart than a double jump reaches. Points inside a gap have no
// footing.
type Gap struct {
	XStart int `yaml:"x_start"`
	XEnd   int `yaml:"x_end"`
	Y      int `yaml:"y"`
}

// Hint tells the movement state machine how a waypoint is meant to be reached.
type Hint string

const (
	HintWalk       Hint = "walk"
	HintDoubleJump Hint = "double_jump"
	HintJump       Hint = "jump"
	HintFall       Hint = "fall"
	HintUpJump     Hint = "up_jump"
	HintGrapple    Hint = "grapple"
	HintGap        Hint = "gap"
)

// Waypoint is one intermediate destination.
type Waypoint struct {
	Point geom.Point
	Hint  Hint
	// Exact requests arrival within the short adjusting tolerance.
	Exact bool
}

// Thresholds are the reach limits of each motion, in minimap pixels.
type Thresholds struct {
	DoubleJump int
	Jump       int
	UpJump     int
	Grapple    int
	GrappleMax int
	// UpJumpOnly limits vertical edges to up-jump reach.
	UpJumpOnly bool
}

// DefaultThresholds returns the standard reach limits.
func DefaultThresholds() Thresholds {
	return Thresholds{DoubleJump: 25, Jump: 7, UpJump: 10, Grapple: 24, GrappleMax: 41}
}

// footingTolerance is how far above a platform a point may be and still
// stand on it.
const footingTolerance = 2

// edgeCost is added per hop so the planner prefers fewer transitions.
const edgeCost = 5

type edge struct {
	to     int
	hint   Hint
	depart geom.Point
	land   geom.Point
	cost   int
}

// Graph is the adjacency of a map's platforms.
//
// Invariant: immutable after NewGraph; safe for concurrent readers.
type Graph struct {
	platforms []Platform
	gaps      []Gap
	edges     [][]edge
	th        Thresholds
}

// NewGraph computes platform neighbors.
//
// Postcondition: Returns a Graph; an empty platform set yields a Graph whose
// Path always falls back to direct movement.
func NewGraph(platforms []Platform, gaps []Gap, th Thresholds) *Graph {
	g := &Graph{
		platforms: append([]Platform(nil), platforms...),
		gaps:      append([]Gap(nil), gaps...),
		th:        th,
	}
	g.edges = make([][]edge, len(g.platforms))
	for i := range g.platforms {
		for j := range g.platforms {
			if i == j {
				continue
			}
			if e, ok := g.connect(i, j); ok {
				g.edges[i] = append(g.edges[i], e)
			}
		}
	}
	return g
}

// Empty reports whether the graph has no platforms.
func (g *Graph) Empty() bool { return g == nil || len(g.platforms) == 0 }

// Platforms returns a copy of the platform set.
func (g *Graph) Platforms() []Platform {
	if g == nil {
		return nil
	}
	return append([]Platform(nil), g.platforms...)
}

// Neighbors returns the indices of platforms reachable from platform i.
func (g *Graph) Neighbors(i int) []int {
	out := make([]int, 0, len(g.edges[i]))
	for _, e := range g.edges[i] {
		out = append(out, e.to)
	}
	return out
}

func (g *Graph) connect(i, j int) (edge, bool) {
	a, b := g.platforms[i], g.platforms[j]
	dy := b.Y - a.Y
	lo, hi := max(a.XStart, b.XStart), min(a.XEnd, b.XEnd)
	hgap := max(0, lo-hi)

	// Departure and landing x: the overlap middle, or the facing ends.
	var dx, lx int
	switch {
	case lo <= hi:
		dx, lx = (lo+hi)/2, (lo+hi)/2
	case a.XEnd < b.XStart:
		dx, lx = a.XEnd, b.XStart
	default:
		dx, lx = a.XStart, b.XEnd
	}
	depart, land := geom.Pt(dx, a.Y), geom.Pt(lx, b.Y)
	cost := geom.Abs(lx-dx) + geom.Abs(dy) + edgeCost

	switch {
	case geom.Abs(dy) <= g.th.Jump:
		switch {
		case hgap <= footingTolerance:
			return edge{to: j, hint: HintWalk, depart: depart, land: land, cost: cost}, true
		case hgap <= g.th.DoubleJump:
			return edge{to: j, hint: HintDoubleJump, depart: depart, land: land, cost: cost}, true
		case g.gapBetween(a, b):
			return edge{to: j, hint: HintGap, depart: depart, land: land, cost: cost}, true
		}
	case dy < 0:
		if hgap <= g.th.DoubleJump {
			return edge{to: j, hint: HintFall, depart: depart, land: land, cost: cost}, true
		}
	default:
		limit := g.th.GrappleMax
		if g.th.UpJumpOnly {
			limit = g.th.Grapple
		}
		if hgap > 0 || dy >= limit {
			return edge{}, false
		}
		hint := HintGrapple
		switch {
		case dy < g.th.UpJump:
			hint = HintJump
		case dy < g.th.Grapple || g.th.UpJumpOnly:
			hint = HintUpJump
		}
		return edge{to: j, hint: hint, depart: depart, land: land, cost: cost}, true
	}
	return edge{}, false
}

func (g *Graph) gapBetween(a, b Platform) bool {
	left, right := a, b
	if b.XEnd < a.XStart {
		left, right = b, a
	}
	for _, gap := range g.gaps {
		if geom.Abs(gap.Y-a.Y) > g.th.Jump {
			continue
		}
		if gap.XStart <= left.XEnd+footingTolerance && gap.XEnd >= right.XStart-footingTolerance {
			return true
		}
	}
	return false
}

// footingIndex returns the highest platform under p within reach, or -1.
func (g *Graph) footingIndex(p geom.Point, reach int) int {
	best := -1
	for i, pl := range g.platforms {
		if !pl.Covers(p.X) || pl.Y > p.Y+footingTolerance || p.Y-pl.Y > reach {
			continue
		}
		if best < 0 || pl.Y > g.platforms[best].Y {
			best = i
		}
	}
	return best
}

// Footing snaps p onto the highest platform beneath it.
//
// Postcondition: ok is false when no platform lies under p.
func (g *Graph) Footing(p geom.Point) (geom.Point, bool) {
	if g.Empty() {
		return p, false
	}
	i := g.footingIndex(p, 1<<30)
	if i < 0 {
		return p, false
	}
	return geom.Pt(p.X, g.platforms[i].Y), true
}

// InGap reports whether p lies at a platform level but over no platform of
// that level, or inside a configured gap.
func (g *Graph) InGap(p geom.Point) bool {
	if g.Empty() {
		return false
	}
	for _, gap := range g.gaps {
		if p.X > gap.XStart && p.X < gap.XEnd && geom.Abs(p.Y-gap.Y) <= footingTolerance {
			return true
		}
	}
	level := false
	for _, pl := range g.platforms {
		if geom.Abs(p.Y-pl.Y) > footingTolerance {
			continue
		}
		level = true
		if pl.Covers(p.X) {
			return false
		}
	}
	return level
}

// Path returns waypoints from `from` to `to` across the platform graph. The
// last waypoint is always `to` with the requested exactness.
//
// Postcondition: planned is false when the graph could not route between the
// two positions; the result then holds the single direct waypoint.
func (g *Graph) Path(from, to geom.Point, exact bool) (waypoints []Waypoint, planned bool) {
	direct := []Waypoint{{Point: to, Hint: HintWalk, Exact: exact}}
	if g.Empty() {
		return direct, false
	}
	reach := g.th.GrappleMax
	start := g.footingIndex(from, reach)
	goal := g.footingIndex(to, reach)
	if start < 0 || goal < 0 {
		return direct, false
	}
	if start == goal {
		return direct, true
	}

	prev, ok := g.dijkstra(start, goal)
	if !ok {
		return direct, false
	}

	var hops []edge
	for at := goal; at != start; {
		e := prev[at]
		hops = append(hops, e.e)
		at = e.from
	}
	for l, r := 0, len(hops)-1; l < r; l, r = l+1, r-1 {
		hops[l], hops[r] = hops[r], hops[l]
	}

	last := from
	for _, h := range hops {
		if h.depart != last {
			waypoints = append(waypoints, Waypoint{Point: h.depart, Hint: HintWalk})
		}
		waypoints = append(waypoints, Waypoint{Point: h.land, Hint: h.hint})
		last = h.land
	}
	if last != to {
		waypoints = append(waypoints, Waypoint{Point: to, Hint: HintWalk, Exact: exact})
	} else {
		waypoints[len(waypoints)-1].Exact = exact
	}
	return waypoints, true
}

type via struct {
	from int
	e    edge
}

func (g *Graph) dijkstra(start, goal int) (map[int]via, bool) {
	dist := map[int]int{start: 0}
	prev := make(map[int]via)
	pq := &queue{{node: start}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(item)
		if cur.node == goal {
			return prev, true
		}
		if d, ok := dist[cur.node]; ok && cur.dist > d {
			continue
		}
		for _, e := range g.edges[cur.node] {
			nd := cur.dist + e.cost
			if d, ok := dist[e.to]; ok && d <= nd {
				continue
			}
			dist[e.to] = nd
			prev[e.to] = via{from: cur.node, e: e}
			heap.Push(pq, item{node: e.to, dist: nd})
		}
	}
	return nil, false
}

// Levels returns the distinct platform heights in ascending order.
func (g *Graph) Levels() []int {
	seen := make(map[int]bool)
	var ys []int
	for _, p := range g.platforms {
		if !seen[p.Y] {
			seen[p.Y] = true
			ys = append(ys, p.Y)
		}
	}
	sort.Ints(ys)
	return ys
}

type item struct {
	node int
	dist int
}

type queue []item

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)        { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
