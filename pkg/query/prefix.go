package query

import (
	"fmt"
	"strings"
	"sync"

	"github.com/revgraph/revgraph/pkg/types"
)

// PrefixIndex answers shortest-unique-prefix and prefix-resolution queries
// over known hashes in time proportional to the prefix length. It is a
// nibble trie, safe for concurrent reads with incremental inserts.
type PrefixIndex struct {
	mu   sync.RWMutex
	root *prefixNode
}

type prefixNode struct {
	children [16]*prefixNode
	count    int
	leaf     *types.ChangesetId
}

func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{root: &prefixNode{}}
}

// Insert registers a hash. Inserting the same hash twice is the caller
// re-seeding; entries are unique per version so this does not happen in
// normal operation.
func (pi *PrefixIndex) Insert(h types.ChangesetId) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	n := pi.root
	n.count++
	for i := 0; i < types.HashSize*2; i++ {
		nb := nibbleAt(h, i)
		if n.children[nb] == nil {
			n.children[nb] = &prefixNode{}
		}
		n = n.children[nb]
		n.count++
	}
	n.leaf = &h
}

// Resolve returns the unique known hash with the given hex prefix.
func (pi *PrefixIndex) Resolve(prefix string) (types.ChangesetId, error) {
	nibbles, err := parseNibbles(prefix)
	if err != nil {
		return types.ChangesetId{}, err
	}

	pi.mu.RLock()
	defer pi.mu.RUnlock()

	n := pi.root
	for _, nb := range nibbles {
		n = n.children[nb]
		if n == nil {
			return types.ChangesetId{}, fmt.Errorf("prefix %q: %w", prefix, types.ErrNotFound)
		}
	}
	if n.count > 1 {
		return types.ChangesetId{}, fmt.Errorf("prefix %q matches %d hashes: %w", prefix, n.count, types.ErrAmbiguousPrefix)
	}
	for n.leaf == nil {
		for _, c := range n.children {
			if c != nil {
				n = c
				break
			}
		}
	}
	return *n.leaf, nil
}

// ShortestUniquePrefix returns the shortest hex prefix of h that matches no
// other known hash.
func (pi *PrefixIndex) ShortestUniquePrefix(h types.ChangesetId) (string, error) {
	pi.mu.RLock()
	defer pi.mu.RUnlock()

	n := pi.root
	for i := 0; i < types.HashSize*2; i++ {
		n = n.children[nibbleAt(h, i)]
		if n == nil {
			return "", fmt.Errorf("hash %s not indexed: %w", h, types.ErrNotFound)
		}
		if n.count == 1 {
			return h.String()[:i+1], nil
		}
	}
	// Full hash; unique by definition of the map.
	return h.String(), nil
}

func nibbleAt(h types.ChangesetId, i int) byte {
	b := h[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

func parseNibbles(prefix string) ([]byte, error) {
	s := strings.ToLower(prefix)
	if s == "" {
		return nil, fmt.Errorf("empty prefix: %w", types.ErrNotFound)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			out = append(out, byte(r-'0'))
		case r >= 'a' && r <= 'f':
			out = append(out, byte(r-'a'+10))
		default:
			return nil, fmt.Errorf("prefix %q is not hex: %w", prefix, types.ErrNotFound)
		}
	}
	if len(out) > types.HashSize*2 {
		return nil, fmt.Errorf("prefix %q longer than a hash: %w", prefix, types.ErrNotFound)
	}
	return out, nil
}
