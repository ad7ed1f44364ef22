// Package query is the stateless read layer: it composes one IdMap version
// and one IdDag snapshot into hash-level ancestry answers. An Engine is
// bound to an explicitly named version pair; it never observes publishes
// that happen after it was built.
package query

import (
	"github.com/revgraph/revgraph/pkg/iddag"
	"github.com/revgraph/revgraph/pkg/idmap"
	"github.com/revgraph/revgraph/pkg/types"
)

type Engine struct {
	ids      *idmap.IdMap
	version  types.VersionRecord
	dag      *iddag.IdDag
	prefixes *PrefixIndex
}

// New builds an engine for the given version pair and seeds the prefix
// index from the idmap entries of that version.
func New(ids *idmap.IdMap, version types.VersionRecord, dag *iddag.IdDag) (*Engine, error) {
	entries, err := ids.Entries(version.IdMapVersion)
	if err != nil {
		return nil, err
	}
	pi := NewPrefixIndex()
	for _, e := range entries {
		pi.Insert(e.Hash)
	}
	return &Engine{ids: ids, version: version, dag: dag, prefixes: pi}, nil
}

// Version returns the version pair the engine answers for.
func (e *Engine) Version() types.VersionRecord { return e.version }

// AddKnownHash extends the prefix index incrementally, for callers tracking
// a pending extension before it becomes a new engine.
func (e *Engine) AddKnownHash(h types.ChangesetId) { e.prefixes.Insert(h) }

func (e *Engine) ResolveVertex(hash types.ChangesetId) (types.Vertex, error) {
	return e.ids.LookupVertex(e.version.IdMapVersion, hash)
}

func (e *Engine) ResolveHash(v types.Vertex) (types.ChangesetId, error) {
	return e.ids.LookupHash(e.version.IdMapVersion, v)
}

// IsAncestor reports whether ancestor reaches descendant through parent
// edges. A commit is its own ancestor.
func (e *Engine) IsAncestor(ancestor, descendant types.ChangesetId) (bool, error) {
	a, err := e.ResolveVertex(ancestor)
	if err != nil {
		return false, err
	}
	b, err := e.ResolveVertex(descendant)
	if err != nil {
		return false, err
	}
	return e.dag.IsAncestor(a, b)
}

// CommonAncestors returns all greatest common ancestors of two commits,
// highest vertex first.
func (e *Engine) CommonAncestors(x, y types.ChangesetId) ([]types.ChangesetId, error) {
	a, err := e.ResolveVertex(x)
	if err != nil {
		return nil, err
	}
	b, err := e.ResolveVertex(y)
	if err != nil {
		return nil, err
	}
	vs, err := e.dag.CommonAncestors(a, b)
	if err != nil {
		return nil, err
	}
	return e.toHashes(vs)
}

// Heads filters the given commits down to those with no descendant in the
// set.
func (e *Engine) Heads(set []types.ChangesetId) ([]types.ChangesetId, error) {
	vs := make([]types.Vertex, 0, len(set))
	for _, h := range set {
		v, err := e.ResolveVertex(h)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	heads, err := e.dag.Heads(vs)
	if err != nil {
		return nil, err
	}
	return e.toHashes(heads)
}

// ResolvePrefix returns the unique known commit with the given hex prefix.
func (e *Engine) ResolvePrefix(prefix string) (types.ChangesetId, error) {
	return e.prefixes.Resolve(prefix)
}

// ShortestUniquePrefix returns the shortest hex prefix distinguishing h
// among all known hashes of this version.
func (e *Engine) ShortestUniquePrefix(h types.ChangesetId) (string, error) {
	return e.prefixes.ShortestUniquePrefix(h)
}

func (e *Engine) toHashes(vs []types.Vertex) ([]types.ChangesetId, error) {
	out := make([]types.ChangesetId, 0, len(vs))
	for _, v := range vs {
		h, err := e.ResolveHash(v)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
