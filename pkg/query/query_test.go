package query

import (
	"crypto/sha256"
	"io"
	"log/slog"
	"testing"

	"github.com/revgraph/revgraph/internal/keyValStore"
	"github.com/revgraph/revgraph/pkg/iddag"
	"github.com/revgraph/revgraph/pkg/idmap"
	"github.com/revgraph/revgraph/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestStore(tb testing.TB) *keyValStore.KeyValStore {
	tb.Helper()
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:  []string{tb.TempDir()},
		Logger: quiet,
	})
	if err != nil {
		tb.Fatalf("open store: %v", err)
	}
	tb.Cleanup(func() { _ = kv.Close() })
	return kv
}

func hashOf(s string) types.ChangesetId {
	return types.ChangesetId(sha256.Sum256([]byte(s)))
}

// diamondEngine indexes root -> {left, right} -> merge and builds an engine
// over the result.
func diamondEngine(t *testing.T) (*Engine, map[string]types.ChangesetId) {
	t.Helper()

	kv := newTestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids := idmap.New(kv, 1, log)

	ver, err := ids.ExtendFrom(0, 0)
	require.NoError(t, err)

	hs := map[string]types.ChangesetId{
		"root":  hashOf("root"),
		"left":  hashOf("left"),
		"right": hashOf("right"),
		"merge": hashOf("merge"),
	}
	for _, c := range []struct {
		name string
		ps   []types.ChangesetId
	}{
		{"root", nil},
		{"left", []types.ChangesetId{hs["root"]}},
		{"right", []types.ChangesetId{hs["root"]}},
		{"merge", []types.ChangesetId{hs["left"], hs["right"]}},
	} {
		_, err := ids.Assign(ver, hs[c.name], c.ps)
		require.NoError(t, err)
	}

	count, err := ids.NextFree(ver)
	require.NoError(t, err)
	dag, err := iddag.Build(count, func(v types.Vertex) ([]types.Vertex, error) {
		return ids.Parents(ver, v)
	})
	require.NoError(t, err)

	eng, err := New(ids, types.VersionRecord{RepoID: 1, IdDagVersion: types.Version(ver), IdMapVersion: ver}, dag)
	require.NoError(t, err)
	return eng, hs
}

func TestEngine_AncestryAtHashLevel(t *testing.T) {
	eng, hs := diamondEngine(t)

	ok, err := eng.IsAncestor(hs["root"], hs["merge"])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eng.IsAncestor(hs["left"], hs["right"])
	require.NoError(t, err)
	require.False(t, ok)

	// A commit is its own ancestor.
	ok, err = eng.IsAncestor(hs["merge"], hs["merge"])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngine_CommonAncestors(t *testing.T) {
	eng, hs := diamondEngine(t)

	gcas, err := eng.CommonAncestors(hs["left"], hs["right"])
	require.NoError(t, err)
	require.Equal(t, []types.ChangesetId{hs["root"]}, gcas)
}

func TestEngine_Heads(t *testing.T) {
	eng, hs := diamondEngine(t)

	heads, err := eng.Heads([]types.ChangesetId{hs["root"], hs["left"], hs["merge"]})
	require.NoError(t, err)
	require.Equal(t, []types.ChangesetId{hs["merge"]}, heads)

	// Two tips of independent branches both survive.
	heads, err = eng.Heads([]types.ChangesetId{hs["left"], hs["right"]})
	require.NoError(t, err)
	require.Len(t, heads, 2)
}

func TestEngine_PrefixResolution(t *testing.T) {
	eng, hs := diamondEngine(t)

	for _, h := range hs {
		p, err := eng.ShortestUniquePrefix(h)
		require.NoError(t, err)
		got, err := eng.ResolvePrefix(p)
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
}
