// Package gitsource adapts a local git repository into the topologically
// ordered commit stream the index consumes: every commit appears after all
// of its parents.
package gitsource

import (
	"fmt"

	"github.com/revgraph/revgraph/pkg/types"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is one element of the ingest stream.
type Commit struct {
	Id      types.ChangesetId
	Parents []types.ChangesetId
}

// Stream reads all commits reachable from refName (the repository HEAD when
// empty) and returns them parents-first.
func Stream(path, refName string) ([]Commit, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open git repository %s: %w", path, err)
	}

	var from plumbing.Hash
	if refName == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}
		from = head.Hash()
	} else {
		h, err := repo.ResolveRevision(plumbing.Revision(refName))
		if err != nil {
			return nil, fmt.Errorf("resolve revision %q: %w", refName, err)
		}
		from = *h
	}

	cIter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}

	parents := make(map[plumbing.Hash][]plumbing.Hash)
	err = cIter.ForEach(func(c *object.Commit) error {
		ps := make([]plumbing.Hash, c.NumParents())
		copy(ps, c.ParentHashes)
		parents[c.Hash] = ps
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}

	return sortTopological(parents)
}

// sortTopological orders the collected commits parents-first (Kahn). Parents
// outside the reachable set (shallow clones) are dropped from the stream.
func sortTopological(parents map[plumbing.Hash][]plumbing.Hash) ([]Commit, error) {
	indegree := make(map[plumbing.Hash]int, len(parents))
	children := make(map[plumbing.Hash][]plumbing.Hash, len(parents))
	for h, ps := range parents {
		for _, p := range ps {
			if _, ok := parents[p]; ok {
				indegree[h]++
				children[p] = append(children[p], h)
			}
		}
	}

	var queue []plumbing.Hash
	for h := range parents {
		if indegree[h] == 0 {
			queue = append(queue, h)
		}
	}

	out := make([]Commit, 0, len(parents))
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		var ps []types.ChangesetId
		for _, p := range parents[h] {
			if _, ok := parents[p]; ok {
				ps = append(ps, types.ChangesetIdFromBytes(p[:]))
			}
		}
		out = append(out, Commit{Id: types.ChangesetIdFromBytes(h[:]), Parents: ps})

		for _, c := range children[h] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}

	if len(out) != len(parents) {
		return nil, fmt.Errorf("history contains a cycle over %d commits: %w", len(parents)-len(out), types.ErrCorruption)
	}
	return out, nil
}
