// Package idmap maintains the versioned, append-only bidirectional mapping
// between commit hashes and dense vertex ids. Entries are never mutated or
// deleted; a new version shares everything below its copy limit with the
// version it was extended from and appends above it.
package idmap

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/types"
)

// IdMap is bound to one repository. All methods take the version explicitly;
// which version is "current" is the registry's business.
type IdMap struct {
	kv   *keyValStore.KeyValStore
	log  *slog.Logger
	repo types.RepoID

	mu       sync.RWMutex
	versions map[types.Version]*versionState
}

// versionState caches the per-version metadata; entries themselves live in
// the store and are read on demand.
type versionState struct {
	copiedFrom types.Version
	copyLimit  types.Vertex
	next       types.Vertex
}

// Entry is one assigned vertex with its recorded topology.
type Entry struct {
	Vertex  types.Vertex
	Hash    types.ChangesetId
	Parents []types.Vertex
}

type metaRecord struct {
	CopiedFrom types.Version
	CopyLimit  types.Vertex
}

type vertexRecord struct {
	Hash    types.ChangesetId
	Parents []types.Vertex
}

func New(kv *keyValStore.KeyValStore, repo types.RepoID, logger *slog.Logger) *IdMap {
	return &IdMap{
		kv:       kv,
		log:      logger,
		repo:     repo,
		versions: make(map[types.Version]*versionState),
	}
}

func (m *IdMap) metaKey(ver types.Version) []byte {
	return []byte(fmt.Sprintf("im:%016x:%016x:meta", m.repo, ver))
}

func (m *IdMap) nextKey(ver types.Version) []byte {
	return []byte(fmt.Sprintf("im:%016x:%016x:next", m.repo, ver))
}

func (m *IdMap) vertexKey(ver types.Version, v types.Vertex) []byte {
	return []byte(fmt.Sprintf("im:%016x:%016x:v:%016x", m.repo, ver, uint64(v)))
}

func (m *IdMap) vertexPrefix(ver types.Version) []byte {
	return []byte(fmt.Sprintf("im:%016x:%016x:v:", m.repo, ver))
}

func (m *IdMap) hashKey(ver types.Version, h types.ChangesetId) []byte {
	return append([]byte(fmt.Sprintf("im:%016x:%016x:h:", m.repo, ver)), h[:]...)
}

// ExtendFrom creates a new version sharing base's entries below copyLimit.
// Pass base 0 / copyLimit 0 to bootstrap the first version of a repository.
// The new version number is base+1; extension is serialized per repository
// by the caller, so numbering stays dense.
func (m *IdMap) ExtendFrom(base types.Version, copyLimit types.Vertex) (types.Version, error) {
	if base != 0 {
		st, err := m.state(base)
		if err != nil {
			return 0, err
		}
		if copyLimit > st.next {
			return 0, fmt.Errorf("copy limit %d beyond base high-water %d: %w", copyLimit, st.next, types.ErrUnknownVertex)
		}
	} else if copyLimit != 0 {
		return 0, fmt.Errorf("copy limit %d without base version: %w", copyLimit, types.ErrUnknownVersion)
	}

	newVer := base + 1

	var meta bytes.Buffer
	if err := gob.NewEncoder(&meta).Encode(metaRecord{CopiedFrom: base, CopyLimit: copyLimit}); err != nil {
		return 0, fmt.Errorf("encode idmap meta: %w", err)
	}
	batch := [][2][]byte{
		{m.metaKey(newVer), meta.Bytes()},
		{m.nextKey(newVer), encodeVertex(copyLimit)},
	}
	if err := m.kv.WriteBatch(batch); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.versions[newVer] = &versionState{copiedFrom: base, copyLimit: copyLimit, next: copyLimit}
	m.mu.Unlock()

	m.log.Debug("idmap version extended",
		"repo", m.repo, "base", base, "version", newVer, "copyLimit", copyLimit)
	return newVer, nil
}

func (m *IdMap) state(ver types.Version) (*versionState, error) {
	m.mu.RLock()
	st, ok := m.versions[ver]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	raw, err := m.kv.Read(m.metaKey(ver))
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("idmap version %d of repo %d: %w", ver, m.repo, types.ErrUnknownVersion)
	}
	if err != nil {
		return nil, err
	}
	var meta metaRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode idmap meta: %v: %w", err, types.ErrCorruption)
	}

	rawNext, err := m.kv.Read(m.nextKey(ver))
	if err != nil {
		return nil, fmt.Errorf("idmap next counter of version %d: %w", ver, err)
	}

	st = &versionState{
		copiedFrom: meta.CopiedFrom,
		copyLimit:  meta.CopyLimit,
		next:       decodeVertex(rawNext),
	}
	m.mu.Lock()
	m.versions[ver] = st
	m.mu.Unlock()
	return st, nil
}

// Assign allocates the next free vertex for hash, or returns the existing
// one unchanged. Parents must already be assigned in ver; a missing parent
// is the caller submitting out of topological order.
func (m *IdMap) Assign(ver types.Version, hash types.ChangesetId, parents []types.ChangesetId) (types.Vertex, error) {
	st, err := m.state(ver)
	if err != nil {
		return types.NoVertex, err
	}

	if v, err := m.LookupVertex(ver, hash); err == nil {
		return v, nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return types.NoVertex, err
	}

	parentVertices := make([]types.Vertex, 0, len(parents))
	for _, p := range parents {
		pv, err := m.LookupVertex(ver, p)
		if errors.Is(err, types.ErrNotFound) {
			return types.NoVertex, fmt.Errorf("parent %s of %s: %w", p, hash, types.ErrOutOfOrder)
		}
		if err != nil {
			return types.NoVertex, err
		}
		parentVertices = append(parentVertices, pv)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v := st.next
	var rec bytes.Buffer
	if err := gob.NewEncoder(&rec).Encode(vertexRecord{Hash: hash, Parents: parentVertices}); err != nil {
		return types.NoVertex, fmt.Errorf("encode idmap entry: %w", err)
	}
	batch := [][2][]byte{
		{m.vertexKey(ver, v), rec.Bytes()},
		{m.hashKey(ver, hash), encodeVertex(v)},
		{m.nextKey(ver), encodeVertex(v + 1)},
	}
	if err := m.kv.WriteBatch(batch); err != nil {
		return types.NoVertex, err
	}
	st.next = v + 1
	return v, nil
}

// LookupVertex resolves hash to its vertex in ver, following the copy chain
// for entries below the copy limit.
func (m *IdMap) LookupVertex(ver types.Version, hash types.ChangesetId) (types.Vertex, error) {
	st, err := m.state(ver)
	if err != nil {
		return types.NoVertex, err
	}

	raw, err := m.kv.Read(m.hashKey(ver, hash))
	if err == nil {
		return decodeVertex(raw), nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return types.NoVertex, err
	}

	if st.copiedFrom != 0 {
		v, err := m.LookupVertex(st.copiedFrom, hash)
		if err == nil && v < st.copyLimit {
			return v, nil
		}
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return types.NoVertex, err
		}
	}
	return types.NoVertex, fmt.Errorf("hash %s in idmap version %d: %w", hash, ver, types.ErrNotFound)
}

// LookupHash resolves a vertex back to its hash in ver.
func (m *IdMap) LookupHash(ver types.Version, v types.Vertex) (types.ChangesetId, error) {
	rec, err := m.record(ver, v)
	if err != nil {
		return types.ChangesetId{}, err
	}
	return rec.Hash, nil
}

// Parents returns the recorded parent vertices of v. This is the parent
// function the segment builder runs on.
func (m *IdMap) Parents(ver types.Version, v types.Vertex) ([]types.Vertex, error) {
	rec, err := m.record(ver, v)
	if err != nil {
		return nil, err
	}
	return rec.Parents, nil
}

func (m *IdMap) record(ver types.Version, v types.Vertex) (*vertexRecord, error) {
	st, err := m.state(ver)
	if err != nil {
		return nil, err
	}
	if v >= st.next {
		return nil, fmt.Errorf("vertex %d in idmap version %d: %w", v, ver, types.ErrNotFound)
	}
	if v < st.copyLimit {
		return m.record(st.copiedFrom, v)
	}

	raw, err := m.kv.Read(m.vertexKey(ver, v))
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("vertex %d below high-water %d has no entry: %w", v, st.next, types.ErrCorruption)
	}
	if err != nil {
		return nil, err
	}
	var rec vertexRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode idmap entry %d: %v: %w", v, err, types.ErrCorruption)
	}
	return &rec, nil
}

// DiscardVersion removes every record of an unpublished version so its
// number can be reused by a later attempt. Stale entries of a failed
// extension would otherwise satisfy the idempotence check in Assign without
// advancing the high-water mark. Only the discard path of a failed extension
// calls this; published versions are never deleted.
func (m *IdMap) DiscardVersion(ver types.Version) error {
	prefix := []byte(fmt.Sprintf("im:%016x:%016x:", m.repo, ver))
	if err := m.kv.DeletePrefix(prefix); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.versions, ver)
	m.mu.Unlock()
	m.log.Debug("idmap version discarded", "repo", m.repo, "version", ver)
	return nil
}

// NextFree returns the id high-water mark of ver.
func (m *IdMap) NextFree(ver types.Version) (types.Vertex, error) {
	st, err := m.state(ver)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return st.next, nil
}

// Entries returns every entry visible in ver in vertex order, composing the
// copy chain with one prefix scan per chain link. Used for clone bundles and
// prefix-index seeding.
func (m *IdMap) Entries(ver types.Version) ([]Entry, error) {
	st, err := m.state(ver)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, st.next)
	present := make([]bool, st.next)

	limit := st.next
	cur := ver
	for cur != 0 {
		cst, err := m.state(cur)
		if err != nil {
			return nil, err
		}
		pairs, err := m.kv.ReadPrefix(m.vertexPrefix(cur))
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			var rec vertexRecord
			if err := gob.NewDecoder(bytes.NewReader(kv[1])).Decode(&rec); err != nil {
				return nil, fmt.Errorf("decode idmap entry: %v: %w", err, types.ErrCorruption)
			}
			v := vertexFromKey(kv[0])
			if v >= limit || present[v] {
				continue
			}
			entries[v] = Entry{Vertex: v, Hash: rec.Hash, Parents: rec.Parents}
			present[v] = true
		}
		if limit > cst.copyLimit {
			limit = cst.copyLimit
		}
		cur = cst.copiedFrom
	}

	for v := range present {
		if !present[v] {
			return nil, fmt.Errorf("idmap version %d misses vertex %d: %w", ver, v, types.ErrCorruption)
		}
	}
	return entries, nil
}

func encodeVertex(v types.Vertex) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeVertex(b []byte) types.Vertex {
	return types.Vertex(binary.BigEndian.Uint64(b))
}

// vertexFromKey recovers the vertex id from the hex tail of a vertex key.
func vertexFromKey(key []byte) types.Vertex {
	tail := key[len(key)-16:]
	var v uint64
	fmt.Sscanf(string(tail), "%016x", &v)
	return types.Vertex(v)
}
