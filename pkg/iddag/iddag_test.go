package iddag

import (
	"errors"
	"testing"

	"github.com/revgraph/revgraph/pkg/types"
)

// parentsOf builds a ParentFunc from a literal adjacency table.
func parentsOf(table map[types.Vertex][]types.Vertex) ParentFunc {
	return func(v types.Vertex) ([]types.Vertex, error) {
		return table[v], nil
	}
}

// linear returns the parent table of a chain 0 -> 1 -> ... -> n-1.
func linear(n types.Vertex) map[types.Vertex][]types.Vertex {
	table := make(map[types.Vertex][]types.Vertex)
	for v := types.Vertex(1); v < n; v++ {
		table[v] = []types.Vertex{v - 1}
	}
	return table
}

func TestBuild_LinearChainIsOneFlatSegment(t *testing.T) {
	const n = 1000
	d, err := Build(n, parentsOf(linear(n)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if got := len(d.FlatSegments()); got != 1 {
		t.Fatalf("linear chain of %d commits produced %d flat segments, want 1", n, got)
	}
	seg := d.FlatSegments()[0]
	if seg.Low != 0 || seg.High != n {
		t.Fatalf("flat segment spans [%d, %d), want [0, %d)", seg.Low, seg.High, n)
	}
}

func TestBuild_SingleMergeProducesThreeFlatSegments(t *testing.T) {
	// Two chains 0..2 and 3..4, joined by merge commit 5.
	table := map[types.Vertex][]types.Vertex{
		1: {0},
		2: {1},
		4: {3},
		5: {2, 4},
	}
	d, err := Build(6, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if got := len(d.FlatSegments()); got != 3 {
		t.Fatalf("merge graph produced %d flat segments, want 3", got)
	}
}

func TestBuild_EmptyDag(t *testing.T) {
	d, err := Build(0, parentsOf(nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if d.VertexCount() != 0 || len(d.FlatSegments()) != 0 {
		t.Fatalf("empty dag has %d vertices, %d segments", d.VertexCount(), len(d.FlatSegments()))
	}
	if _, err := d.IsAncestor(0, 0); !errors.Is(err, types.ErrUnknownVertex) {
		t.Fatalf("query on empty dag returned %v, want ErrUnknownVertex", err)
	}
}

func TestBuild_RejectsTopologicalViolation(t *testing.T) {
	table := map[types.Vertex][]types.Vertex{
		1: {2}, // parent above child
	}
	if _, err := Build(3, parentsOf(table)); !errors.Is(err, types.ErrCorruption) {
		t.Fatalf("got %v, want ErrCorruption", err)
	}
}

func TestIsAncestor_ChainTruths(t *testing.T) {
	// A=0 root, B=1 child of A, C=2 child of B.
	d, err := Build(3, parentsOf(linear(3)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cases := []struct {
		a, b types.Vertex
		want bool
	}{
		{0, 2, true},
		{2, 0, false},
		{0, 0, true},
		{1, 2, true},
		{2, 1, false},
	}
	for _, c := range cases {
		got, err := d.IsAncestor(c.a, c.b)
		if err != nil {
			t.Fatalf("IsAncestor(%d, %d): %v", c.a, c.b, err)
		}
		if got != c.want {
			t.Errorf("IsAncestor(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}

	gcas, err := d.CommonAncestors(1, 2)
	if err != nil {
		t.Fatalf("CommonAncestors: %v", err)
	}
	if len(gcas) != 1 || gcas[0] != 1 {
		t.Fatalf("CommonAncestors(1, 2) = %v, want [1]", gcas)
	}
}

func TestIsAncestor_AcrossMerge(t *testing.T) {
	table := map[types.Vertex][]types.Vertex{
		1: {0},
		2: {1},
		4: {3},
		5: {2, 4},
		6: {5},
	}
	d, err := Build(7, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, v := range []types.Vertex{0, 1, 2, 3, 4, 5} {
		ok, err := d.IsAncestor(v, 6)
		if err != nil {
			t.Fatalf("IsAncestor(%d, 6): %v", v, err)
		}
		if !ok {
			t.Errorf("IsAncestor(%d, 6) = false, want true", v)
		}
	}
	if ok, _ := d.IsAncestor(2, 4); ok {
		t.Error("IsAncestor(2, 4) across unrelated branches = true, want false")
	}
}

func TestCommonAncestors_CrissCrossReturnsAll(t *testing.T) {
	// 3 and 4 both merge 1 and 2: two incomparable GCAs.
	table := map[types.Vertex][]types.Vertex{
		1: {0},
		2: {0},
		3: {1, 2},
		4: {1, 2},
	}
	d, err := Build(5, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	gcas, err := d.CommonAncestors(3, 4)
	if err != nil {
		t.Fatalf("CommonAncestors: %v", err)
	}
	if len(gcas) != 2 || gcas[0] != 2 || gcas[1] != 1 {
		t.Fatalf("CommonAncestors(3, 4) = %v, want [2 1]", gcas)
	}
}

func TestHeads(t *testing.T) {
	table := map[types.Vertex][]types.Vertex{
		1: {0},
		2: {1},
		4: {3},
		5: {2, 4},
	}
	d, err := Build(6, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	heads, err := d.Heads([]types.Vertex{0, 2, 3, 5})
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != 5 {
		t.Fatalf("Heads = %v, want [5]", heads)
	}

	heads, err = d.Heads([]types.Vertex{2, 4})
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("Heads of two branch tips = %v, want both", heads)
	}
}

// branchy builds a deterministic graph mixing chains, merges and branch
// points, for equivalence checks between full and incremental builds.
func branchy(n types.Vertex) map[types.Vertex][]types.Vertex {
	table := make(map[types.Vertex][]types.Vertex)
	for v := types.Vertex(1); v < n; v++ {
		switch {
		case v%13 == 0 && v > 2:
			table[v] = []types.Vertex{v - 1, v / 2}
		case v%7 == 0 && v > 1:
			table[v] = []types.Vertex{v / 3}
		default:
			table[v] = []types.Vertex{v - 1}
		}
	}
	return table
}

func TestExtend_EquivalentToFullRebuild(t *testing.T) {
	const cut, n = 60, 100
	table := branchy(n)

	prior, err := Build(cut, parentsOf(table))
	if err != nil {
		t.Fatalf("build prior: %v", err)
	}
	extended, err := Extend(prior, n, parentsOf(table))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	full, err := Build(n, parentsOf(table))
	if err != nil {
		t.Fatalf("full build: %v", err)
	}

	for a := types.Vertex(0); a < n; a++ {
		for b := types.Vertex(0); b < n; b++ {
			g1, err := extended.IsAncestor(a, b)
			if err != nil {
				t.Fatalf("extended.IsAncestor(%d, %d): %v", a, b, err)
			}
			g2, err := full.IsAncestor(a, b)
			if err != nil {
				t.Fatalf("full.IsAncestor(%d, %d): %v", a, b, err)
			}
			if g1 != g2 {
				t.Fatalf("IsAncestor(%d, %d): extend=%v rebuild=%v", a, b, g1, g2)
			}
		}
	}

	for a := types.Vertex(0); a < n; a += 7 {
		for b := types.Vertex(0); b < n; b += 11 {
			g1, err := extended.CommonAncestors(a, b)
			if err != nil {
				t.Fatalf("extended.CommonAncestors(%d, %d): %v", a, b, err)
			}
			g2, err := full.CommonAncestors(a, b)
			if err != nil {
				t.Fatalf("full.CommonAncestors(%d, %d): %v", a, b, err)
			}
			if len(g1) != len(g2) {
				t.Fatalf("CommonAncestors(%d, %d): extend=%v rebuild=%v", a, b, g1, g2)
			}
			for i := range g1 {
				if g1[i] != g2[i] {
					t.Fatalf("CommonAncestors(%d, %d): extend=%v rebuild=%v", a, b, g1, g2)
				}
			}
		}
	}
}

func TestExtend_ReusesClosedSegments(t *testing.T) {
	const cut, n = 60, 100
	table := branchy(n)

	prior, err := Build(cut, parentsOf(table))
	if err != nil {
		t.Fatalf("build prior: %v", err)
	}
	extended, err := Extend(prior, n, parentsOf(table))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}

	closed := len(prior.FlatSegments()) - 1
	for i := 0; i < closed; i++ {
		if prior.FlatSegments()[i] != extended.FlatSegments()[i] {
			t.Fatalf("flat segment %d was re-derived instead of reused", i)
		}
	}
}

func TestExtend_ReusesClosedLayerSegments(t *testing.T) {
	// Merge bursts every third vertex force many flat segments and at least
	// one summary layer; the layer groups below the extension point must be
	// carried over by object identity, not rebuilt.
	table := make(map[types.Vertex][]types.Vertex)
	const cut, n = 600, 660
	for v := types.Vertex(1); v < n; v++ {
		if v%3 == 0 {
			table[v] = []types.Vertex{v - 1, v - 2}
		} else {
			table[v] = []types.Vertex{v - 1}
		}
	}

	prior, err := Build(cut, parentsOf(table))
	if err != nil {
		t.Fatalf("build prior: %v", err)
	}
	if prior.LayerCount() == 0 {
		t.Fatal("prior built no high-level layers")
	}
	extended, err := Extend(prior, n, parentsOf(table))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}

	boundary := prior.flat[len(prior.flat)-1].Low
	reusable := 0
	for _, g := range prior.layers[0] {
		if g.High <= boundary {
			reusable++
		}
	}
	// The last group below the boundary may legitimately regroup: whether it
	// absorbs the first changed child depends on that child's parents.
	reusable--
	if reusable < 1 {
		t.Fatal("graph too small to exercise layer reuse")
	}
	for i := 0; i < reusable; i++ {
		if extended.layers[0][i] != prior.layers[0][i] {
			t.Fatalf("high-level segment %d was re-derived instead of reused", i)
		}
	}

	// Reuse must not change any answer relative to a full rebuild.
	full, err := Build(n, parentsOf(table))
	if err != nil {
		t.Fatalf("full build: %v", err)
	}
	for a := types.Vertex(0); a < n; a += 17 {
		for b := types.Vertex(0); b < n; b += 23 {
			g1, err := extended.IsAncestor(a, b)
			if err != nil {
				t.Fatalf("extended.IsAncestor(%d, %d): %v", a, b, err)
			}
			g2, err := full.IsAncestor(a, b)
			if err != nil {
				t.Fatalf("full.IsAncestor(%d, %d): %v", a, b, err)
			}
			if g1 != g2 {
				t.Fatalf("IsAncestor(%d, %d): extend=%v rebuild=%v", a, b, g1, g2)
			}
		}
	}
}

func TestExtend_NilPriorFallsBackToBuild(t *testing.T) {
	d, err := Extend(nil, 10, parentsOf(linear(10)))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if len(d.FlatSegments()) != 1 {
		t.Fatalf("got %d flat segments, want 1", len(d.FlatSegments()))
	}
}

func TestHighLevelLayers_BoundSegmentWalks(t *testing.T) {
	// A long chain of small merge bursts produces many flat segments, which
	// must collapse into at least one summary layer.
	table := make(map[types.Vertex][]types.Vertex)
	const n = 600
	for v := types.Vertex(1); v < n; v++ {
		if v%3 == 0 {
			table[v] = []types.Vertex{v - 1, v - 2}
		} else {
			table[v] = []types.Vertex{v - 1}
		}
	}
	d, err := Build(n, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(d.FlatSegments()) < 100 {
		t.Fatalf("expected many flat segments, got %d", len(d.FlatSegments()))
	}
	if d.LayerCount() == 0 {
		t.Fatal("no high-level layers built over a long segmented chain")
	}

	ok, err := d.IsAncestor(0, n-1)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Fatal("IsAncestor(0, tip) = false, want true")
	}
}

func TestAncestors_CoverIsExact(t *testing.T) {
	table := map[types.Vertex][]types.Vertex{
		1: {0},
		2: {1},
		4: {3},
		5: {2, 4},
	}
	d, err := Build(6, parentsOf(table))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ranges, err := d.Ancestors(5)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	// 5 reaches everything: one contiguous range.
	if len(ranges) != 1 || ranges[0].Lo != 0 || ranges[0].Hi != 5 {
		t.Fatalf("Ancestors(5) = %v, want [{0 5}]", ranges)
	}

	ranges, err = d.Ancestors(2)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(ranges) != 1 || ranges[0].Lo != 0 || ranges[0].Hi != 2 {
		t.Fatalf("Ancestors(2) = %v, want [{0 2}]", ranges)
	}
}

func TestQueries_UnknownVertex(t *testing.T) {
	d, err := Build(3, parentsOf(linear(3)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := d.IsAncestor(0, 3); !errors.Is(err, types.ErrUnknownVertex) {
		t.Fatalf("IsAncestor with stale vertex: %v, want ErrUnknownVertex", err)
	}
	if _, err := d.CommonAncestors(7, 0); !errors.Is(err, types.ErrUnknownVertex) {
		t.Fatalf("CommonAncestors with stale vertex: %v, want ErrUnknownVertex", err)
	}
	if _, err := d.Heads([]types.Vertex{0, 9}); !errors.Is(err, types.ErrUnknownVertex) {
		t.Fatalf("Heads with stale vertex: %v, want ErrUnknownVertex", err)
	}
}
