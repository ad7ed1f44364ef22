// Package types holds the shared identifiers and records of the commit-graph
// index. Everything here is plain data; behavior lives in the components that
// consume it.
package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the width of a ChangesetId in bytes. Shorter source hashes
// (sha1 ids from git repositories) are left-aligned and zero-padded.
const HashSize = 32

// ChangesetId is the content hash identifying a commit. It is opaque to the
// index; only equality and hex rendering matter here.
type ChangesetId [HashSize]byte

// Vertex is the dense integer id assigned to a ChangesetId within one IdMap
// version. Assignment order is a valid topological order: every parent's
// vertex is smaller than its child's.
type Vertex uint64

// NoVertex marks the absence of a vertex.
const NoVertex = Vertex(^uint64(0))

// Version numbers IdMap and IdDag snapshots. Version 0 means "none"; the
// first published version of a repository is 1.
type Version uint64

// RepoID identifies a repository within the index.
type RepoID uint64

func (c ChangesetId) String() string {
	return hex.EncodeToString(c[:])
}

// ChangesetIdFromHex parses a hex commit id. Both full-width ids and shorter
// ones (e.g. 40-hex sha1) are accepted; shorter ids fill the leading bytes.
func ChangesetIdFromHex(s string) (ChangesetId, error) {
	var c ChangesetId
	if len(s)%2 != 0 || len(s) > HashSize*2 {
		return c, fmt.Errorf("invalid changeset id %q: %w", s, ErrNotFound)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("invalid changeset id %q: %v: %w", s, err, ErrNotFound)
	}
	copy(c[:], b)
	return c, nil
}

// ChangesetIdFromBytes builds a ChangesetId from raw hash bytes, left-aligned.
func ChangesetIdFromBytes(b []byte) ChangesetId {
	var c ChangesetId
	copy(c[:], b)
	return c
}

// VersionRecord is the per-repository pointer published by the registry. It
// references an already-durable (IdDag, IdMap) snapshot pair.
type VersionRecord struct {
	RepoID       RepoID
	IdDagVersion Version
	IdMapVersion Version
}

// CopyMapping documents that entries with vertex < CopyLimit in IdMapVersion
// are identical to CopiedFromVersion, so bootstrap tooling can skip
// re-deriving unchanged history.
type CopyMapping struct {
	RepoID            RepoID
	IdMapVersion      Version
	CopiedFromVersion Version
	CopyLimit         Vertex
}

// CloneHint references a precomputed serialized bundle a new client can
// fetch instead of deriving the structure from scratch.
type CloneHint struct {
	RepoID       RepoID
	IdMapVersion Version
	BlobName     string
}
