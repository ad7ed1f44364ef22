// Package clonehint builds and fetches the precomputed bootstrap bundles a
// new client downloads instead of deriving the index from scratch. A bundle
// carries the full idmap entries and the encoded segment structure of one
// published version pair, xz-compressed and stored as content-addressed
// chunks.
package clonehint

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/iddag"
	"github.com/revgraph/revgraph/pkg/idmap"
	"github.com/revgraph/revgraph/pkg/registry"
	"github.com/revgraph/revgraph/pkg/types"
	workerpool "github.com/revgraph/revgraph/pkg/workerPool"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ulikunitz/xz"
)

// Bundle is the decoded bootstrap artifact.
type Bundle struct {
	Version types.VersionRecord
	Entries []idmap.Entry
	Dag     []byte // iddag blob, decodable with iddag.Decode
}

type manifest struct {
	Chunks [][32]byte
	Size   int64
}

type Builder struct {
	kv   *keyValStore.KeyValStore
	reg  *registry.Registry
	pool *workerpool.WorkerPool
	log  *slog.Logger
}

func NewBuilder(kv *keyValStore.KeyValStore, reg *registry.Registry, pool *workerpool.WorkerPool, logger *slog.Logger) *Builder {
	return &Builder{kv: kv, reg: reg, pool: pool, log: logger}
}

func chunkKey(h [32]byte) []byte {
	return append([]byte("cl:c:"), h[:]...)
}

func manifestKey(name string) []byte {
	return []byte("cl:m:" + name)
}

// Build serializes the current version pair of repo into a chunked bundle
// and records the resulting clone hint in the registry.
func (b *Builder) Build(repo types.RepoID, ids *idmap.IdMap, dag *iddag.IdDag) (types.CloneHint, error) {
	ver, err := b.reg.Current(repo)
	if err != nil {
		return types.CloneHint{}, err
	}

	entries, err := ids.Entries(ver.IdMapVersion)
	if err != nil {
		return types.CloneHint{}, err
	}
	dagBlob, err := iddag.Encode(dag)
	if err != nil {
		return types.CloneHint{}, err
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(Bundle{Version: ver, Entries: entries, Dag: dagBlob}); err != nil {
		return types.CloneHint{}, fmt.Errorf("encode clone bundle: %w", err)
	}

	var packed bytes.Buffer
	xw, err := xz.NewWriter(&packed)
	if err != nil {
		return types.CloneHint{}, fmt.Errorf("xz writer: %w", err)
	}
	if _, err := xw.Write(raw.Bytes()); err != nil {
		return types.CloneHint{}, fmt.Errorf("compress clone bundle: %w", err)
	}
	if err := xw.Close(); err != nil {
		return types.CloneHint{}, fmt.Errorf("finish clone bundle: %w", err)
	}

	// Content-defined chunking keeps consecutive bundles of the same repo
	// mostly deduplicated in the store.
	bz := chunker.NewBuzhash(bytes.NewReader(packed.Bytes()))
	var man manifest
	man.Size = int64(packed.Len())

	var chunks [][]byte
	for {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.CloneHint{}, fmt.Errorf("chunk clone bundle: %w", err)
		}
		man.Chunks = append(man.Chunks, sha256.Sum256(chunk))
		chunks = append(chunks, chunk)
	}

	room := b.pool.CreateRoom(len(chunks))
	for i, chunk := range chunks {
		sum, data := man.Chunks[i], chunk
		room.NewTask(func() error {
			return b.kv.Write(chunkKey(sum), data)
		})
	}
	if err := room.Wait(); err != nil {
		return types.CloneHint{}, fmt.Errorf("store clone chunks: %w", err)
	}

	nameSum := sha256.New()
	for _, c := range man.Chunks {
		nameSum.Write(c[:])
	}
	name := hex.EncodeToString(nameSum.Sum(nil))

	var manBuf bytes.Buffer
	if err := gob.NewEncoder(&manBuf).Encode(man); err != nil {
		return types.CloneHint{}, fmt.Errorf("encode clone manifest: %w", err)
	}
	if err := b.kv.Write(manifestKey(name), manBuf.Bytes()); err != nil {
		return types.CloneHint{}, err
	}

	hint := types.CloneHint{RepoID: repo, IdMapVersion: ver.IdMapVersion, BlobName: name}
	if err := b.reg.RecordCloneHint(hint); err != nil {
		return types.CloneHint{}, err
	}

	b.log.Info("clone hint built",
		"repo", repo, "version", ver.IdMapVersion, "blob", name,
		"chunks", len(man.Chunks), "bytes", man.Size)
	return hint, nil
}

// Fetch reassembles and decodes the bundle behind a blob name, verifying
// every chunk against its content hash.
func (b *Builder) Fetch(blobName string) (*Bundle, error) {
	rawMan, err := b.kv.Read(manifestKey(blobName))
	if err != nil {
		return nil, fmt.Errorf("clone manifest %s: %w", blobName, err)
	}
	var man manifest
	if err := gob.NewDecoder(bytes.NewReader(rawMan)).Decode(&man); err != nil {
		return nil, fmt.Errorf("decode clone manifest: %v: %w", err, types.ErrCorruption)
	}

	var packed bytes.Buffer
	packed.Grow(int(man.Size))
	for i, want := range man.Chunks {
		chunk, err := b.kv.Read(chunkKey(want))
		if err != nil {
			return nil, fmt.Errorf("clone chunk %d: %w", i, err)
		}
		if sha256.Sum256(chunk) != want {
			return nil, fmt.Errorf("clone chunk %d fails hash check: %w", i, types.ErrCorruption)
		}
		packed.Write(chunk)
	}

	xr, err := xz.NewReader(bytes.NewReader(packed.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decompress clone bundle: %v: %w", err, types.ErrCorruption)
	}
	var bundle Bundle
	if err := gob.NewDecoder(xr).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode clone bundle: %v: %w", err, types.ErrCorruption)
	}
	return &bundle, nil
}
