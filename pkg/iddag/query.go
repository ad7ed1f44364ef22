package iddag

import (
	"fmt"
	"sort"

	"github.com/revgraph/revgraph/pkg/types"
)

// VertexRange is a closed interval [Lo, Hi] of vertex ids.
type VertexRange struct {
	Lo, Hi types.Vertex
}

// rangeSet is a sorted list of disjoint, non-adjacent closed ranges.
type rangeSet struct {
	ranges []VertexRange
}

func (rs *rangeSet) contains(v types.Vertex) bool {
	i := sort.Search(len(rs.ranges), func(i int) bool { return rs.ranges[i].Hi >= v })
	return i < len(rs.ranges) && rs.ranges[i].Lo <= v
}

func (rs *rangeSet) add(lo, hi types.Vertex) {
	i := sort.Search(len(rs.ranges), func(i int) bool { return rs.ranges[i].Hi+1 >= lo })
	j := i
	for j < len(rs.ranges) && rs.ranges[j].Lo <= hi+1 {
		if rs.ranges[j].Lo < lo {
			lo = rs.ranges[j].Lo
		}
		if rs.ranges[j].Hi > hi {
			hi = rs.ranges[j].Hi
		}
		j++
	}
	merged := append(rs.ranges[:i:i], VertexRange{Lo: lo, Hi: hi})
	rs.ranges = append(merged, rs.ranges[j:]...)
}

func (rs *rangeSet) intersect(other *rangeSet) *rangeSet {
	out := &rangeSet{}
	i, j := 0, 0
	for i < len(rs.ranges) && j < len(other.ranges) {
		a, b := rs.ranges[i], other.ranges[j]
		lo, hi := maxVertex(a.Lo, b.Lo), minVertex(a.Hi, b.Hi)
		if lo <= hi {
			out.ranges = append(out.ranges, VertexRange{Lo: lo, Hi: hi})
		}
		if a.Hi < b.Hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func maxVertex(a, b types.Vertex) types.Vertex {
	if a > b {
		return a
	}
	return b
}

func minVertex(a, b types.Vertex) types.Vertex {
	if a < b {
		return a
	}
	return b
}

func (d *IdDag) checkVertex(v types.Vertex) error {
	if v >= d.next {
		return fmt.Errorf("vertex %d outside [0, %d): %w", v, d.next, types.ErrUnknownVertex)
	}
	return nil
}

// ancestorCover computes ancestors(v) including v itself as a range set, by
// walking segment parent pointers downward. floor prunes subtrees that
// cannot reach any vertex >= floor; pass 0 for the full cover.
func (d *IdDag) ancestorCover(v types.Vertex, floor types.Vertex) *rangeSet {
	rs := &rangeSet{}
	stack := []types.Vertex{v}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if rs.contains(x) {
			continue
		}
		seg := d.span(x)
		rs.add(seg.Low, x)
		for _, p := range seg.Parents {
			// ancestors(p) all lie at or below p
			if p >= floor && !rs.contains(p) {
				stack = append(stack, p)
			}
		}
	}
	return rs
}

// IsAncestor reports whether a is an ancestor of b (a vertex is its own
// ancestor). Implemented as a bounded walk across segment boundaries, not a
// vertex-by-vertex graph walk.
func (d *IdDag) IsAncestor(a, b types.Vertex) (bool, error) {
	if err := d.checkVertex(a); err != nil {
		return false, err
	}
	if err := d.checkVertex(b); err != nil {
		return false, err
	}
	if a == b {
		return true, nil
	}
	if a > b {
		return false, nil
	}

	rs := &rangeSet{}
	stack := []types.Vertex{b}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if rs.contains(x) {
			continue
		}
		seg := d.span(x)
		if seg.Low <= a && a <= x {
			return true, nil
		}
		rs.add(seg.Low, x)
		for _, p := range seg.Parents {
			if p >= a && !rs.contains(p) {
				stack = append(stack, p)
			}
		}
	}
	return false, nil
}

// Ancestors returns the full ancestor set of v (v included) as sorted
// disjoint ranges. This is the "ancestor segment cover" of the GCA
// computation, exposed for sync tooling.
func (d *IdDag) Ancestors(v types.Vertex) ([]VertexRange, error) {
	if err := d.checkVertex(v); err != nil {
		return nil, err
	}
	rs := d.ancestorCover(v, 0)
	return append([]VertexRange(nil), rs.ranges...), nil
}

// CommonAncestors returns all greatest common ancestors of a and b, highest
// vertex first. In a non-linear history several incomparable GCAs can exist;
// callers decide precedence.
func (d *IdDag) CommonAncestors(a, b types.Vertex) ([]types.Vertex, error) {
	if err := d.checkVertex(a); err != nil {
		return nil, err
	}
	if err := d.checkVertex(b); err != nil {
		return nil, err
	}

	common := d.ancestorCover(a, 0).intersect(d.ancestorCover(b, 0))
	return d.headsOfClosed(common), nil
}

// headsOfClosed returns the maximal vertices of an ancestor-closed range
// set: members with no child also in the set. Inside a flat run every vertex
// except the run's last has its successor as a child, so only flat-segment
// heads and range tops are candidates.
func (d *IdDag) headsOfClosed(rs *rangeSet) []types.Vertex {
	var heads []types.Vertex
	for i := len(rs.ranges) - 1; i >= 0; i-- {
		r := rs.ranges[i]
		for _, w := range d.segmentHeadsIn(r) {
			if d.hasBranchChildIn(w, rs) {
				continue
			}
			heads = append(heads, w)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] > heads[j] })
	return heads
}

// segmentHeadsIn lists the candidate head vertices of r: the range top plus
// every flat-segment head strictly inside it.
func (d *IdDag) segmentHeadsIn(r VertexRange) []types.Vertex {
	out := []types.Vertex{r.Hi}
	v := r.Lo
	for v < r.Hi {
		seg := d.flatContaining(v)
		if seg == nil {
			break
		}
		head := seg.High - 1
		if head < r.Hi {
			out = append(out, head)
		}
		v = seg.High
	}
	return out
}

func (d *IdDag) hasBranchChildIn(v types.Vertex, rs *rangeSet) bool {
	for _, low := range d.branchChildren[v] {
		if rs.contains(low) {
			return true
		}
	}
	return false
}

// Heads returns the vertices of set with no descendant also in set.
func (d *IdDag) Heads(set []types.Vertex) ([]types.Vertex, error) {
	for _, v := range set {
		if err := d.checkVertex(v); err != nil {
			return nil, err
		}
	}

	sorted := append([]types.Vertex(nil), set...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	var heads []types.Vertex
	for i, v := range sorted {
		if i > 0 && v == sorted[i-1] {
			continue
		}
		isHead := true
		for _, w := range sorted {
			if w <= v {
				break
			}
			anc, err := d.IsAncestor(v, w)
			if err != nil {
				return nil, err
			}
			if anc {
				isHead = false
				break
			}
		}
		if isHead {
			heads = append(heads, v)
		}
	}
	return heads, nil
}
