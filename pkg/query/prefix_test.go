package query

import (
	"errors"
	"testing"

	"github.com/revgraph/revgraph/pkg/types"
)

func mustHash(t *testing.T, s string) types.ChangesetId {
	t.Helper()
	h, err := types.ChangesetIdFromHex(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return h
}

func TestPrefixIndex_ResolveAndAmbiguity(t *testing.T) {
	pi := NewPrefixIndex()
	h1 := mustHash(t, "abc123")
	h2 := mustHash(t, "abc456")
	pi.Insert(h1)
	pi.Insert(h2)

	got, err := pi.Resolve("abc1")
	if err != nil {
		t.Fatalf("resolve abc1: %v", err)
	}
	if got != h1 {
		t.Fatalf("resolve abc1 = %s, want %s", got, h1)
	}

	if _, err := pi.Resolve("abc"); !errors.Is(err, types.ErrAmbiguousPrefix) {
		t.Fatalf("resolve abc: %v, want ErrAmbiguousPrefix", err)
	}
	if _, err := pi.Resolve("fff"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("resolve fff: %v, want ErrNotFound", err)
	}
	if _, err := pi.Resolve("not hex"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("resolve non-hex: %v, want ErrNotFound", err)
	}
	if _, err := pi.Resolve(""); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("resolve empty: %v, want ErrNotFound", err)
	}
}

func TestPrefixIndex_ShortestUniquePrefix(t *testing.T) {
	pi := NewPrefixIndex()
	h1 := mustHash(t, "abc123")
	h2 := mustHash(t, "abc456")
	pi.Insert(h1)
	pi.Insert(h2)

	p, err := pi.ShortestUniquePrefix(h1)
	if err != nil {
		t.Fatalf("shortest prefix: %v", err)
	}
	if p != "abc1" {
		t.Fatalf("shortest prefix = %q, want %q", p, "abc1")
	}

	// The returned prefix must resolve back to the same hash.
	back, err := pi.Resolve(p)
	if err != nil {
		t.Fatalf("resolve own prefix: %v", err)
	}
	if back != h1 {
		t.Fatalf("own prefix resolves to %s", back)
	}

	if _, err := pi.ShortestUniquePrefix(mustHash(t, "ffff")); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("prefix of unindexed hash: %v, want ErrNotFound", err)
	}
}

func TestPrefixIndex_SingleEntry(t *testing.T) {
	pi := NewPrefixIndex()
	h := mustHash(t, "deadbeef")
	pi.Insert(h)

	p, err := pi.ShortestUniquePrefix(h)
	if err != nil {
		t.Fatalf("shortest prefix: %v", err)
	}
	if p != "d" {
		t.Fatalf("shortest prefix = %q, want %q", p, "d")
	}
}
