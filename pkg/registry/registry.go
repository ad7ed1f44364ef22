// Package registry tracks which (IdDag, IdMap) snapshot pair is current per
// repository. The current pointer is the only mutable state in the whole
// index: it is swapped atomically on publish and read lock-free by query
// traffic. Copy mappings and clone hints ride along as durable metadata.
package registry

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/types"
)

type Registry struct {
	kv  *keyValStore.KeyValStore
	log *slog.Logger

	mu      sync.Mutex // serializes publishes; readers never take it
	current sync.Map   // types.RepoID -> *atomic.Pointer[types.VersionRecord]
}

// Open loads all durable version records so Current answers immediately
// after a restart.
func Open(kv *keyValStore.KeyValStore, logger *slog.Logger) (*Registry, error) {
	r := &Registry{kv: kv, log: logger}

	pairs, err := kv.ReadPrefix([]byte("vr:"))
	if err != nil {
		return nil, fmt.Errorf("load version records: %w", err)
	}
	for _, kvp := range pairs {
		var rec types.VersionRecord
		if err := gob.NewDecoder(bytes.NewReader(kvp[1])).Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode version record %q: %v: %w", kvp[0], err, types.ErrCorruption)
		}
		p := &atomic.Pointer[types.VersionRecord]{}
		p.Store(&rec)
		r.current.Store(rec.RepoID, p)
	}
	if len(pairs) > 0 {
		logger.Info("version registry loaded", "repos", len(pairs))
	}
	return r, nil
}

func versionKey(repo types.RepoID) []byte {
	return []byte(fmt.Sprintf("vr:%016x", repo))
}

func copyMappingKey(repo types.RepoID, ver types.Version) []byte {
	return []byte(fmt.Sprintf("cm:%016x:%016x", repo, ver))
}

func cloneHintKey(repo types.RepoID, ver types.Version) []byte {
	return []byte(fmt.Sprintf("ch:%016x:%016x", repo, ver))
}

// Publish atomically moves the current pointer of repo to the given, already
// durable snapshot pair. Versions only move forward; readers observe either
// the fully-old or the fully-new record, never a mix.
func (r *Registry) Publish(repo types.RepoID, iddagVersion, idmapVersion types.Version) error {
	if iddagVersion == 0 || idmapVersion == 0 {
		return fmt.Errorf("publish of version 0 for repo %d: %w", repo, types.ErrUnknownVersion)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ptr := r.pointer(repo)
	if prev := ptr.Load(); prev != nil {
		if iddagVersion <= prev.IdDagVersion || idmapVersion <= prev.IdMapVersion {
			return fmt.Errorf("publish %d/%d does not advance current %d/%d: %w",
				iddagVersion, idmapVersion, prev.IdDagVersion, prev.IdMapVersion, types.ErrUnknownVersion)
		}
	}

	rec := types.VersionRecord{RepoID: repo, IdDagVersion: iddagVersion, IdMapVersion: idmapVersion}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode version record: %w", err)
	}
	if err := r.kv.Write(versionKey(repo), buf.Bytes()); err != nil {
		return err
	}

	ptr.Store(&rec)
	r.log.Info("version published", "repo", repo, "iddag", iddagVersion, "idmap", idmapVersion)
	return nil
}

func (r *Registry) pointer(repo types.RepoID) *atomic.Pointer[types.VersionRecord] {
	if p, ok := r.current.Load(repo); ok {
		return p.(*atomic.Pointer[types.VersionRecord])
	}
	p, _ := r.current.LoadOrStore(repo, &atomic.Pointer[types.VersionRecord]{})
	return p.(*atomic.Pointer[types.VersionRecord])
}

// Current returns the published snapshot pair of repo. Lock-free.
func (r *Registry) Current(repo types.RepoID) (types.VersionRecord, error) {
	if p, ok := r.current.Load(repo); ok {
		if rec := p.(*atomic.Pointer[types.VersionRecord]).Load(); rec != nil {
			return *rec, nil
		}
	}
	return types.VersionRecord{}, fmt.Errorf("repo %d has no published version: %w", repo, types.ErrUnknownVersion)
}

// RecordCopyMapping stores the lineage record accompanying a publish.
func (r *Registry) RecordCopyMapping(cm types.CopyMapping) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cm); err != nil {
		return fmt.Errorf("encode copy mapping: %w", err)
	}
	return r.kv.Write(copyMappingKey(cm.RepoID, cm.IdMapVersion), buf.Bytes())
}

// CopyMappings returns the recorded lineage of repo, oldest version first.
func (r *Registry) CopyMappings(repo types.RepoID) ([]types.CopyMapping, error) {
	pairs, err := r.kv.ReadPrefix([]byte(fmt.Sprintf("cm:%016x:", repo)))
	if err != nil {
		return nil, err
	}
	var out []types.CopyMapping
	for _, kvp := range pairs {
		var cm types.CopyMapping
		if err := gob.NewDecoder(bytes.NewReader(kvp[1])).Decode(&cm); err != nil {
			return nil, fmt.Errorf("decode copy mapping: %v: %w", err, types.ErrCorruption)
		}
		out = append(out, cm)
	}
	return out, nil
}

// RecordCloneHint stores the bootstrap artifact reference for a version.
func (r *Registry) RecordCloneHint(ch types.CloneHint) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ch); err != nil {
		return fmt.Errorf("encode clone hint: %w", err)
	}
	return r.kv.Write(cloneHintKey(ch.RepoID, ch.IdMapVersion), buf.Bytes())
}

// CloneHint returns the hint recorded for a specific idmap version.
func (r *Registry) CloneHint(repo types.RepoID, ver types.Version) (types.CloneHint, error) {
	raw, err := r.kv.Read(cloneHintKey(repo, ver))
	if errors.Is(err, types.ErrNotFound) {
		return types.CloneHint{}, fmt.Errorf("clone hint for repo %d version %d: %w", repo, ver, types.ErrNotFound)
	}
	if err != nil {
		return types.CloneHint{}, err
	}
	var ch types.CloneHint
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&ch); err != nil {
		return types.CloneHint{}, fmt.Errorf("decode clone hint: %v: %w", err, types.ErrCorruption)
	}
	return ch, nil
}
