// Package revgraph is a segment-based commit-graph index: it maps commit
// hashes to dense integer vertices, maintains an immutable segment structure
// over them, and answers ancestry queries in time proportional to the number
// of merges rather than the number of commits. Published versions are
// immutable; readers never coordinate with the single writer per repository.
package revgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/revgraph/revgraph/internal/journal"
	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/clonehint"
	"github.com/revgraph/revgraph/pkg/iddag"
	"github.com/revgraph/revgraph/pkg/idmap"
	"github.com/revgraph/revgraph/pkg/query"
	"github.com/revgraph/revgraph/pkg/registry"
	"github.com/revgraph/revgraph/pkg/types"
	workerpool "github.com/revgraph/revgraph/pkg/workerPool"
)

// Commit is one element of the inbound stream: a hash plus its parent
// hashes, submitted in topological order.
type Commit struct {
	Id      types.ChangesetId
	Parents []types.ChangesetId
}

// RevGraph is the main index handle. It owns the KV store, the version
// registry and the lifecycle of extensions.
type RevGraph struct {
	log    *slog.Logger
	config Config

	kv       *keyValStore.KeyValStore
	registry *registry.Registry
	journal  *journal.Journal
	pool     *workerpool.WorkerPool
	hints    *clonehint.Builder

	idmaps  sync.Map // types.RepoID -> *idmap.IdMap
	writers sync.Map // types.RepoID -> *sync.Mutex
	dags    sync.Map // versionKey -> *iddag.IdDag
	engines sync.Map // versionKey -> *query.Engine

	closeOnce sync.Once
}

type versionKey struct {
	repo types.RepoID
	ver  types.Version
}

func Open(config Config) (*RevGraph, error) {
	if config.Logger == nil {
		config.Logger = defaultLogger()
	}
	if len(config.Paths) == 0 {
		return nil, errors.New("revgraph: no data path configured")
	}

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            config.Paths,
		MinimumFreeSpace: int(config.MinimumFreeGB),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg, err := registry.Open(kv, config.Logger)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	pool := workerpool.NewWorkerPool(workerpool.Config{})

	r := &RevGraph{
		log:      config.Logger,
		config:   config,
		kv:       kv,
		registry: reg,
		journal:  journal.New(kv, config.Logger),
		pool:     pool,
		hints:    clonehint.NewBuilder(kv, reg, pool, config.Logger),
	}
	return r, nil
}

func (r *RevGraph) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.pool.Close()
		err = r.kv.Close()
	})
	return err
}

func (r *RevGraph) idmapFor(repo types.RepoID) *idmap.IdMap {
	if m, ok := r.idmaps.Load(repo); ok {
		return m.(*idmap.IdMap)
	}
	m, _ := r.idmaps.LoadOrStore(repo, idmap.New(r.kv, repo, r.log))
	return m.(*idmap.IdMap)
}

func (r *RevGraph) writerFor(repo types.RepoID) *sync.Mutex {
	if m, ok := r.writers.Load(repo); ok {
		return m.(*sync.Mutex)
	}
	m, _ := r.writers.LoadOrStore(repo, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func dagBlobKey(repo types.RepoID, ver types.Version) []byte {
	return []byte(fmt.Sprintf("dg:%016x:%016x", repo, ver))
}

func (r *RevGraph) loadDag(repo types.RepoID, ver types.Version) (*iddag.IdDag, error) {
	key := versionKey{repo: repo, ver: ver}
	if d, ok := r.dags.Load(key); ok {
		return d.(*iddag.IdDag), nil
	}

	blob, err := r.kv.Read(dagBlobKey(repo, ver))
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("dag version %d of repo %d: %w", ver, repo, types.ErrUnknownVersion)
	}
	if err != nil {
		return nil, err
	}
	dag, err := iddag.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("dag version %d of repo %d: %w", ver, repo, err)
	}

	d, _ := r.dags.LoadOrStore(key, dag)
	return d.(*iddag.IdDag), nil
}

// Extend indexes a topologically ordered delta of commits for repo and
// publishes the resulting version pair. Extensions of the same repo are
// serialized; different repos extend in parallel. On any failure nothing
// becomes visible: the pending version is journaled as discarded and the
// previously published version keeps serving.
func (r *RevGraph) Extend(ctx context.Context, repo types.RepoID, commits []Commit) (types.VersionRecord, error) {
	mu := r.writerFor(repo)
	mu.Lock()
	defer mu.Unlock()

	im := r.idmapFor(repo)

	if pending, ok, err := r.journal.Pending(repo); err != nil {
		return types.VersionRecord{}, err
	} else if ok {
		r.log.Warn("sweeping interrupted extension", "repo", repo, "pending", pending)
		if err := r.discardPending(repo, im, pending); err != nil {
			return types.VersionRecord{}, err
		}
	}

	var (
		baseVer   types.Version
		copyLimit types.Vertex
		prior     *iddag.IdDag
	)
	cur, err := r.registry.Current(repo)
	switch {
	case err == nil:
		baseVer = cur.IdMapVersion
		copyLimit, err = im.NextFree(baseVer)
		if err != nil {
			return types.VersionRecord{}, err
		}
		prior, err = r.loadDag(repo, cur.IdDagVersion)
		if err != nil {
			return types.VersionRecord{}, err
		}
	case errors.Is(err, types.ErrUnknownVersion):
		// first extension of this repo
	default:
		return types.VersionRecord{}, err
	}

	newVer, err := im.ExtendFrom(baseVer, copyLimit)
	if err != nil {
		return types.VersionRecord{}, err
	}
	if err := r.journal.Begin(repo, newVer); err != nil {
		return types.VersionRecord{}, err
	}

	rec, err := r.buildAndPublish(ctx, repo, im, newVer, baseVer, copyLimit, prior, commits)
	if err != nil {
		if derr := r.discardPending(repo, im, newVer); derr != nil {
			r.log.Error("discard after failed extension", "repo", repo, "error", derr)
		}
		return types.VersionRecord{}, err
	}

	if err := r.journal.Clear(repo); err != nil {
		return types.VersionRecord{}, err
	}
	return rec, nil
}

// discardPending erases everything a failed or interrupted extension wrote.
// The version number is reused by the next attempt, so partially-written
// idmap entries and dag blobs must go before the journal entry is
// tombstoned; leaving them would let the retry resolve hashes to vertices
// the rebuilt dag never covers.
func (r *RevGraph) discardPending(repo types.RepoID, im *idmap.IdMap, pending types.Version) error {
	if err := im.DiscardVersion(pending); err != nil {
		return err
	}
	if err := r.kv.DeletePrefix(dagBlobKey(repo, pending)); err != nil {
		return err
	}
	return r.journal.Discard(repo)
}

func (r *RevGraph) buildAndPublish(
	ctx context.Context,
	repo types.RepoID,
	im *idmap.IdMap,
	newVer, baseVer types.Version,
	copyLimit types.Vertex,
	prior *iddag.IdDag,
	commits []Commit,
) (types.VersionRecord, error) {
	for i, c := range commits {
		if err := ctx.Err(); err != nil {
			return types.VersionRecord{}, fmt.Errorf("extension of repo %d interrupted at commit %d: %w", repo, i, err)
		}
		if _, err := im.Assign(newVer, c.Id, c.Parents); err != nil {
			return types.VersionRecord{}, err
		}
	}

	count, err := im.NextFree(newVer)
	if err != nil {
		return types.VersionRecord{}, err
	}

	dag, err := iddag.Extend(prior, count, func(v types.Vertex) ([]types.Vertex, error) {
		return im.Parents(newVer, v)
	})
	if err != nil {
		return types.VersionRecord{}, err
	}

	blob, err := iddag.Encode(dag)
	if err != nil {
		return types.VersionRecord{}, err
	}
	if err := r.kv.Write(dagBlobKey(repo, newVer), blob); err != nil {
		return types.VersionRecord{}, err
	}

	if err := r.registry.RecordCopyMapping(types.CopyMapping{
		RepoID:            repo,
		IdMapVersion:      newVer,
		CopiedFromVersion: baseVer,
		CopyLimit:         copyLimit,
	}); err != nil {
		return types.VersionRecord{}, err
	}

	if err := r.registry.Publish(repo, newVer, newVer); err != nil {
		return types.VersionRecord{}, err
	}
	r.dags.Store(versionKey{repo: repo, ver: newVer}, dag)

	r.log.Info("history extended",
		"repo", repo, "version", newVer,
		"commits", len(commits), "vertices", count,
		"flatSegments", len(dag.FlatSegments()))
	return types.VersionRecord{RepoID: repo, IdDagVersion: newVer, IdMapVersion: newVer}, nil
}

// Current returns the published version pair of repo.
func (r *RevGraph) Current(repo types.RepoID) (types.VersionRecord, error) {
	return r.registry.Current(repo)
}

// Query returns a read engine bound to the current version of repo.
func (r *RevGraph) Query(repo types.RepoID) (*query.Engine, error) {
	cur, err := r.registry.Current(repo)
	if err != nil {
		return nil, err
	}
	return r.QueryAt(repo, cur)
}

// QueryAt returns a read engine bound to an explicit version pair. Engines
// stay valid across later publishes; they keep answering for their version.
func (r *RevGraph) QueryAt(repo types.RepoID, ver types.VersionRecord) (*query.Engine, error) {
	key := versionKey{repo: repo, ver: ver.IdMapVersion}
	if e, ok := r.engines.Load(key); ok {
		return e.(*query.Engine), nil
	}

	dag, err := r.loadDag(repo, ver.IdDagVersion)
	if err != nil {
		return nil, err
	}
	eng, err := query.New(r.idmapFor(repo), ver, dag)
	if err != nil {
		return nil, err
	}
	e, _ := r.engines.LoadOrStore(key, eng)
	return e.(*query.Engine), nil
}

// BuildCloneHint precomputes the bootstrap bundle for the current version
// of repo and records it in the registry.
func (r *RevGraph) BuildCloneHint(repo types.RepoID) (types.CloneHint, error) {
	cur, err := r.registry.Current(repo)
	if err != nil {
		return types.CloneHint{}, err
	}
	dag, err := r.loadDag(repo, cur.IdDagVersion)
	if err != nil {
		return types.CloneHint{}, err
	}
	return r.hints.Build(repo, r.idmapFor(repo), dag)
}

// FetchCloneBundle loads a previously built bootstrap bundle by blob name.
func (r *RevGraph) FetchCloneBundle(blobName string) (*clonehint.Bundle, error) {
	return r.hints.Fetch(blobName)
}

// Registry exposes the version registry for sync and bootstrap tooling.
func (r *RevGraph) Registry() *registry.Registry { return r.registry }

// StoreCounters reports KV reads and writes since open.
func (r *RevGraph) StoreCounters() (reads, writes uint64) {
	return r.kv.Counters()
}
