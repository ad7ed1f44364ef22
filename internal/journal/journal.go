// Package journal records in-flight extensions. A pending version is only
// referenced here until its publish succeeds; if the process dies or the
// extension fails, the entry (or its discard tombstone) names exactly which
// unpublished keys a sweep may reclaim. Published data never appears here.
package journal

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/types"
)

type Journal struct {
	kv  *keyValStore.KeyValStore
	log *slog.Logger
}

type record struct {
	PendingVersion types.Version
	StartedAt      time.Time
}

func New(kv *keyValStore.KeyValStore, logger *slog.Logger) *Journal {
	return &Journal{kv: kv, log: logger}
}

func activeKey(repo types.RepoID) []byte {
	return []byte(fmt.Sprintf("jr:a:%016x", repo))
}

func discardKey(repo types.RepoID, ver types.Version) []byte {
	return []byte(fmt.Sprintf("jr:d:%016x:%016x", repo, ver))
}

// Begin marks pending as the version being built for repo. The single
// writer per repo guarantees there is at most one active entry. A tombstone
// left by an earlier attempt at the same version refers to data that was
// already swept, so it is dropped here; otherwise Discarded would name a
// version that ends up published.
func (j *Journal) Begin(repo types.RepoID, pending types.Version) error {
	if err := j.kv.DeletePrefix(discardKey(repo, pending)); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record{PendingVersion: pending, StartedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	return j.kv.Write(activeKey(repo), buf.Bytes())
}

// Clear removes the active entry after a successful publish.
func (j *Journal) Clear(repo types.RepoID) error {
	return j.kv.DeletePrefix(activeKey(repo))
}

// Discard tombstones the active entry of a failed extension. The pending
// version was never published, so readers cannot have seen it.
func (j *Journal) Discard(repo types.RepoID) error {
	raw, err := j.kv.Read(activeKey(repo))
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return fmt.Errorf("decode journal record: %v: %w", err, types.ErrCorruption)
	}
	if err := j.kv.Write(discardKey(repo, rec.PendingVersion), raw); err != nil {
		return err
	}
	if err := j.kv.DeletePrefix(activeKey(repo)); err != nil {
		return err
	}
	j.log.Warn("extension discarded", "repo", repo, "pending", rec.PendingVersion)
	return nil
}

// Pending reports the version of an interrupted extension, if any. Seen
// after a crash; the caller discards it before starting anew.
func (j *Journal) Pending(repo types.RepoID) (types.Version, bool, error) {
	raw, err := j.kv.Read(activeKey(repo))
	if errors.Is(err, types.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return 0, false, fmt.Errorf("decode journal record: %v: %w", err, types.ErrCorruption)
	}
	return rec.PendingVersion, true, nil
}

// Discarded lists versions abandoned by failed extensions of repo, for
// retention tooling.
func (j *Journal) Discarded(repo types.RepoID) ([]types.Version, error) {
	pairs, err := j.kv.ReadPrefix([]byte(fmt.Sprintf("jr:d:%016x:", repo)))
	if err != nil {
		return nil, err
	}
	var out []types.Version
	for _, kvp := range pairs {
		var rec record
		if err := gob.NewDecoder(bytes.NewReader(kvp[1])).Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode journal tombstone: %v: %w", err, types.ErrCorruption)
		}
		out = append(out, rec.PendingVersion)
	}
	return out, nil
}
