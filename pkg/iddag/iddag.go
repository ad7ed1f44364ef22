// Package iddag implements the segment structure over dense vertex ids that
// answers ancestry queries in time proportional to the number of segments
// (merges and branch points) rather than the number of commits.
//
// A flat segment [Low, High) is a maximal run of vertices forming an
// unbroken single-parent chain: parent(i) = i-1 for every i in (Low, High).
// Flat segments never overlap and their union covers every vertex. On top of
// them, high-level segments summarize adjacent runs whose combined range is
// still an ancestor-closed set, bounding the hop count of queries to
// O(log span).
package iddag

import (
	"fmt"
	"sort"

	"github.com/revgraph/revgraph/pkg/types"
)

// segmentFanout bounds both the child count and the external-parent count of
// a high-level segment. Tunable; validated by the compactness tests.
const segmentFanout = 16

// Segment is a half-open vertex range [Low, High). Parents holds the vertex
// ids needed to leave the range: for a flat segment the parents of Low, for
// a high-level segment the union of member parents below Low. Parents are
// sorted ascending and always smaller than Low.
type Segment struct {
	Low     types.Vertex
	High    types.Vertex
	Parents []types.Vertex
}

// ParentFunc supplies the parent vertices of a vertex. Parents must all be
// smaller than the vertex itself; the builder rejects anything else.
type ParentFunc func(v types.Vertex) ([]types.Vertex, error)

// IdDag is the immutable segment structure for one (repository, version).
// Queries never mutate it; concurrent readers need no coordination.
type IdDag struct {
	next   types.Vertex // vertex count; ids are [0, next)
	flat   []*Segment   // level 0, sorted by Low, covering [0, next)
	layers [][]*Segment // layers[0] is level 1, each sorted by Low

	// branchChildren maps a vertex to the Low of every flat segment that
	// lists it as a parent. Chain children (v+1 inside the same segment) are
	// implicit.
	branchChildren map[types.Vertex][]types.Vertex
}

// VertexCount returns the number of vertices the dag spans.
func (d *IdDag) VertexCount() types.Vertex { return d.next }

// FlatSegments exposes the level-0 segments. Callers must not modify them.
func (d *IdDag) FlatSegments() []*Segment { return d.flat }

// LayerCount returns the number of high-level layers above the flat one.
func (d *IdDag) LayerCount() int { return len(d.layers) }

// Build constructs the dag from scratch for vertices [0, count) in one scan.
// A vertex extends the open flat segment exactly when its sole parent is the
// previous vertex; every merge and every chain break closes the segment.
func Build(count types.Vertex, parents ParentFunc) (*IdDag, error) {
	d := &IdDag{next: count}
	if count == 0 {
		d.finish()
		return d, nil
	}

	openLow := types.Vertex(0)
	openParents, err := checkedParents(parents, 0)
	if err != nil {
		return nil, err
	}

	for v := types.Vertex(1); v < count; v++ {
		ps, err := checkedParents(parents, v)
		if err != nil {
			return nil, err
		}
		if len(ps) == 1 && ps[0] == v-1 {
			continue
		}
		d.flat = append(d.flat, &Segment{Low: openLow, High: v, Parents: openParents})
		openLow, openParents = v, ps
	}
	d.flat = append(d.flat, &Segment{Low: openLow, High: count, Parents: openParents})

	d.finish()
	return d, nil
}

// Extend builds the dag for vertices [0, count) reusing prior, which must
// span a prefix of the same history. Every fully-closed flat segment of
// prior is reused by object identity; only the trailing flat segment and the
// high-level segments touching it are recomputed. Cost is proportional to
// the delta plus the touched boundary segments.
func Extend(prior *IdDag, count types.Vertex, parents ParentFunc) (*IdDag, error) {
	if prior == nil || prior.next == 0 {
		return Build(count, parents)
	}
	if count < prior.next {
		return nil, fmt.Errorf("extend to %d below prior %d: %w", count, prior.next, types.ErrCorruption)
	}
	if count == prior.next {
		return prior, nil
	}

	d := &IdDag{next: count}
	last := prior.flat[len(prior.flat)-1]
	d.flat = append(d.flat, prior.flat[:len(prior.flat)-1]...)

	openLow, openParents := last.Low, last.Parents
	openIsLast := true // open segment still identical to prior's trailing one

	for v := prior.next; v < count; v++ {
		ps, err := checkedParents(parents, v)
		if err != nil {
			return nil, err
		}
		if len(ps) == 1 && ps[0] == v-1 {
			continue
		}
		if openIsLast && v == prior.next {
			d.flat = append(d.flat, last)
		} else {
			d.flat = append(d.flat, &Segment{Low: openLow, High: v, Parents: openParents})
		}
		openLow, openParents = v, ps
		openIsLast = false
	}
	d.flat = append(d.flat, &Segment{Low: openLow, High: count, Parents: openParents})

	d.finishExtend(prior)
	return d, nil
}

func checkedParents(parents ParentFunc, v types.Vertex) ([]types.Vertex, error) {
	ps, err := parents(v)
	if err != nil {
		return nil, fmt.Errorf("parents of %d: %w", v, err)
	}
	for _, p := range ps {
		if p >= v {
			return nil, fmt.Errorf("vertex %d has parent %d violating topological order: %w", v, p, types.ErrCorruption)
		}
	}
	return ps, nil
}

// finish derives the high-level layers and the branch-children index.
func (d *IdDag) finish() {
	d.layers = nil
	child := d.flat
	for len(child) > 1 {
		parent := groupLayer(child)
		if len(parent) >= len(child) {
			break
		}
		d.layers = append(d.layers, parent)
		child = parent
	}
	d.indexBranchChildren()
}

// finishExtend derives the layers reusing prior's high-level segments below
// the extension point. Greedy grouping looks only at members already
// consumed and the caps, so every prior group closed strictly before the
// first changed child regroups identically; those are taken over by object
// identity and only the boundary and the delta are regrouped.
func (d *IdDag) finishExtend(prior *IdDag) {
	boundary := prior.flat[len(prior.flat)-1].Low
	child := d.flat
	for l := 0; len(child) > 1; l++ {
		var priorLayer []*Segment
		if l < len(prior.layers) {
			priorLayer = prior.layers[l]
		}
		parent, cut := groupLayerFrom(child, priorLayer, boundary)
		if len(parent) >= len(child) {
			break
		}
		d.layers = append(d.layers, parent)
		child = parent
		boundary = cut
	}
	d.indexBranchChildren()
}

// groupLayerFrom reuses the prior groups wholly below boundary and regroups
// the rest. The last prior group below the cut is regrouped too: whether it
// would absorb the first changed child depends on that child's parents. The
// returned cut is where regrouping started, the reuse boundary for the
// layer above.
func groupLayerFrom(children []*Segment, prior []*Segment, boundary types.Vertex) ([]*Segment, types.Vertex) {
	keep := 0
	for keep < len(prior) && prior[keep].High <= boundary {
		keep++
	}
	keep--

	var out []*Segment
	cut := types.Vertex(0)
	if keep > 0 {
		out = append(out, prior[:keep]...)
		cut = prior[keep-1].High
	}
	i := sort.Search(len(children), func(i int) bool { return children[i].Low >= cut })
	out = append(out, groupLayer(children[i:])...)
	return out, cut
}

func (d *IdDag) indexBranchChildren() {
	d.branchChildren = make(map[types.Vertex][]types.Vertex, len(d.flat))
	for _, seg := range d.flat {
		for _, p := range seg.Parents {
			d.branchChildren[p] = append(d.branchChildren[p], seg.Low)
		}
	}
}

// groupLayer greedily merges adjacent child segments into ancestor-closed
// groups. A child joins the group only if its parents include the head of
// the previous member, which keeps the whole group inside the ancestor set
// of its head; fan-out caps bound both member and external-parent counts.
func groupLayer(children []*Segment) []*Segment {
	var out []*Segment
	for i := 0; i < len(children); {
		first := children[i]
		low := first.Low
		ext := append([]types.Vertex(nil), first.Parents...)
		last := first
		members := 1

		j := i + 1
		for j < len(children) && members < segmentFanout {
			next := children[j]
			if !containsVertex(next.Parents, last.High-1) {
				break
			}
			add := externalNotIn(next.Parents, low, ext)
			if len(ext)+len(add) > segmentFanout {
				break
			}
			ext = append(ext, add...)
			last = next
			members++
			j++
		}

		if members == 1 {
			out = append(out, first)
		} else {
			sort.Slice(ext, func(a, b int) bool { return ext[a] < ext[b] })
			out = append(out, &Segment{Low: low, High: last.High, Parents: ext})
		}
		i = j
	}
	return out
}

func containsVertex(vs []types.Vertex, v types.Vertex) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

func externalNotIn(parents []types.Vertex, low types.Vertex, have []types.Vertex) []types.Vertex {
	var add []types.Vertex
	for _, p := range parents {
		if p < low && !containsVertex(have, p) && !containsVertex(add, p) {
			add = append(add, p)
		}
	}
	return add
}

// flatContaining returns the level-0 segment holding v.
func (d *IdDag) flatContaining(v types.Vertex) *Segment {
	return segmentContaining(d.flat, v)
}

func segmentContaining(segs []*Segment, v types.Vertex) *Segment {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].High > v })
	if i < len(segs) && segs[i].Low <= v {
		return segs[i]
	}
	return nil
}

// span returns the widest segment usable to cover ancestors of v: the
// highest-level segment whose head is v, or the flat segment holding v.
func (d *IdDag) span(v types.Vertex) *Segment {
	for l := len(d.layers) - 1; l >= 0; l-- {
		if seg := segmentContaining(d.layers[l], v); seg != nil && seg.High-1 == v {
			return seg
		}
	}
	return d.flatContaining(v)
}
