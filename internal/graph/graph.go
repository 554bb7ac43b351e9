// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package graph implements the Allocation Graph (C6): forward and reverse
// adjacency over the allocation set, anchor classification, and
// anchor-chain traversal for the Explainer visitor.
//
// Adjacency is stored CSR-style (two index arrays per direction) rather
// than as a slice of dynamic per-vertex edge lists. The reverse array is
// built with a two-pass counting sort: count in-degrees, prefix-sum them
// into offsets, then fill by walking the edges a second time and
// incrementing a per-vertex write cursor.
package graph

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/roots"
	"github.com/coredump-tools/heapwalk/internal/scanner"
)

// AnchorKind classifies an allocation's retention.
type AnchorKind int

const (
	Unclassified AnchorKind = iota
	StaticAnchor
	StackAnchor
	RegisterAnchor
	ThreadCached
	Leaked
)

func (k AnchorKind) String() string {
	switch k {
	case StaticAnchor:
		return "static-anchored"
	case StackAnchor:
		return "stack-anchored"
	case RegisterAnchor:
		return "register-anchored"
	case ThreadCached:
		return "thread-cached"
	case Leaked:
		return "leaked"
	}
	return "unclassified"
}

// VirtualAddressMap is the subset of core.Process the graph needs to
// fetch allocation bytes for visitor callbacks.
type VirtualAddressMap interface {
	Find(addr core.Offset) ([]byte, int64)
}

// A Graph is the frozen, built allocation graph: adjacency, root
// incidence, and the derived anchor classification. It is built once
// (Build is idempotent) and read-only thereafter.
type Graph struct {
	finder *allocset.Finder

	fOff []int32 // forward CSR offsets, len N+1
	fTo  []int32 // forward CSR targets, len E
	rOff []int32 // reverse CSR offsets, len N+1
	rTo  []int32 // reverse CSR sources, len E

	staticRoots   map[allocset.Index][]roots.Root
	stackRoots    map[allocset.Index][]roots.Root
	registerRoots map[allocset.Index][]roots.Root

	cls []AnchorKind

	built bool
}

// New returns a Graph over finder's allocations. Build must be called
// before any query method.
func New(finder *allocset.Finder) *Graph {
	return &Graph{finder: finder}
}

// Finder returns the allocation finder this graph was built over.
func (g *Graph) Finder() *allocset.Finder { return g.finder }

// N returns the number of allocations (the sentinel "no allocation"
// value for indices).
func (g *Graph) N() allocset.Index { return g.finder.NumAllocations() }

// BuildInput bundles the root-enumerator inputs Build needs; kept
// separate from Graph so Graph itself has no dependency on how roots
// are discovered.
type BuildInput struct {
	VAM           VirtualAddressMap
	StaticRegions []roots.StaticRegion
	Threads       []roots.ThreadInfo
	PtrSize       int64
	BigEndian     bool
	// Workers bounds the concurrency of the per-allocation reference
	// scan; 0 means GOMAXPROCS.
	Workers int
}

// Build scans every allocation for outgoing pointers, materializes
// forward and reverse adjacency, records root incidence, and classifies
// every allocation's retention. It is idempotent: a second call is a
// no-op.
func (g *Graph) Build(ctx context.Context, in BuildInput) error {
	if g.built {
		return nil
	}

	n := int(g.finder.NumAllocations())
	edges := g.scanAll(ctx, in, n)

	g.buildForward(n, edges)
	g.buildReverse(n, edges)
	g.buildRoots(in)
	g.classify(n)

	g.built = true
	return nil
}

// scanAll runs the reference scanner (C4) over every allocation using a
// bounded worker pool. Each worker owns a disjoint slice of allocation
// indices, so there is no shared mutable state to synchronize beyond
// collecting results, which keeps this a plain sync.WaitGroup fan-out
// rather than needing a generic job-queue abstraction.
func (g *Graph) scanAll(ctx context.Context, in BuildInput, n int) [][]scanner.Edge {
	edges := make([][]scanner.Edge, n)
	if n == 0 {
		return edges
	}

	workers := in.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				a := g.finder.AllocationAt(allocset.Index(i))
				if !a.Used {
					continue
				}
				edges[i] = scanner.Scan(in.VAM, g.finder, allocset.Index(i), in.PtrSize, in.BigEndian)
			}
		}(lo, hi)
	}
	wg.Wait()
	return edges
}

func (g *Graph) buildForward(n int, edges [][]scanner.Edge) {
	g.fOff = make([]int32, n+1)
	for i := 0; i < n; i++ {
		g.fOff[i+1] = g.fOff[i] + int32(len(edges[i]))
	}
	g.fTo = make([]int32, g.fOff[n])
	for i := 0; i < n; i++ {
		base := g.fOff[i]
		for k, e := range edges[i] {
			g.fTo[int(base)+k] = int32(e.Target)
		}
	}
}

// buildReverse performs the two-pass counting sort: count each vertex's
// in-degree, prefix-sum into rOff, then walk the edges again filling rTo
// by incrementing a per-vertex write cursor seeded from rOff.
func (g *Graph) buildReverse(n int, edges [][]scanner.Edge) {
	indeg := make([]int32, n+1)
	for i := 0; i < n; i++ {
		for _, e := range edges[i] {
			indeg[int(e.Target)+1]++
		}
	}
	g.rOff = make([]int32, n+1)
	for j := 0; j < n; j++ {
		g.rOff[j+1] = g.rOff[j] + indeg[j+1]
	}
	cursor := make([]int32, n)
	copy(cursor, g.rOff[:n])
	g.rTo = make([]int32, g.rOff[n])
	for i := 0; i < n; i++ {
		for _, e := range edges[i] {
			j := int(e.Target)
			g.rTo[cursor[j]] = int32(i)
			cursor[j]++
		}
	}
}

func (g *Graph) buildRoots(in BuildInput) {
	g.staticRoots = map[allocset.Index][]roots.Root{}
	g.stackRoots = map[allocset.Index][]roots.Root{}
	g.registerRoots = map[allocset.Index][]roots.Root{}

	record := func(dst map[allocset.Index][]roots.Root, words []roots.Word) {
		for _, w := range words {
			i := g.finder.AllocationIndexOf(w.Value)
			if i == g.N() {
				continue
			}
			dst[i] = append(dst[i], w.Root)
		}
	}

	record(g.staticRoots, roots.EnumerateStatic(in.VAM, in.StaticRegions, in.PtrSize, in.BigEndian))
	record(g.stackRoots, roots.EnumerateStack(in.VAM, in.Threads, in.PtrSize, in.BigEndian))
	record(g.registerRoots, roots.EnumerateRegister(in.Threads))
}

// classify performs three breadth-first reachability passes in
// Static > Stack > Register priority order: an allocation reachable
// from more than one root kind keeps the highest-priority kind.
// Anything left unclassified is Leaked.
func (g *Graph) classify(n int) {
	g.cls = make([]AnchorKind, n)

	mark := func(rootSet map[allocset.Index][]roots.Root, kind AnchorKind) {
		visited := make([]bool, n)
		var queue []int32
		keys := make([]int, 0, len(rootSet))
		for i := range rootSet {
			keys = append(keys, int(i))
		}
		sort.Ints(keys)
		for _, i := range keys {
			if visited[i] {
				continue
			}
			visited[i] = true
			if g.cls[i] == Unclassified {
				g.cls[i] = kind
			}
			queue = append(queue, int32(i))
		}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, v := range g.fTo[g.fOff[u]:g.fOff[u+1]] {
				if visited[v] {
					continue
				}
				visited[v] = true
				if g.cls[v] == Unclassified {
					g.cls[v] = kind
				}
				queue = append(queue, v)
			}
		}
	}

	mark(g.staticRoots, StaticAnchor)
	mark(g.stackRoots, StackAnchor)
	mark(g.registerRoots, RegisterAnchor)

	for i := range g.cls {
		if g.cls[i] == Unclassified {
			g.cls[i] = Leaked
		}
	}
}

// Class returns i's anchor classification. Build must have been called.
func (g *Graph) Class(i allocset.Index) AnchorKind {
	return g.cls[i]
}

// Out returns the forward adjacency list of i: the set of allocations i
// directly points to.
func (g *Graph) Out(i allocset.Index) []allocset.Index {
	return g.edgesFrom(g.fOff, g.fTo, i)
}

// In returns the reverse adjacency list of i: the set of allocations
// that directly point to i.
func (g *Graph) In(i allocset.Index) []allocset.Index {
	return g.edgesFrom(g.rOff, g.rTo, i)
}

func (g *Graph) edgesFrom(off, to []int32, i allocset.Index) []allocset.Index {
	lo, hi := off[i], off[i+1]
	out := make([]allocset.Index, hi-lo)
	for k := range out {
		out[k] = allocset.Index(to[int(lo)+k])
	}
	return out
}

// StaticRoots, StackRoots, and RegisterRoots return the root descriptors
// recorded for i of each kind, or nil if i is not directly rooted that
// way.
func (g *Graph) StaticRoots(i allocset.Index) []roots.Root   { return g.staticRoots[i] }
func (g *Graph) StackRoots(i allocset.Index) []roots.Root    { return g.stackRoots[i] }
func (g *Graph) RegisterRoots(i allocset.Index) []roots.Root { return g.registerRoots[i] }

// InvariantViolation reports a broken graph invariant: a forward edge
// referencing an index AllocationAt rejects. This is a bug,
// not a runtime data problem, so callers are expected to let it
// propagate to a top-level recover that logs and aborts.
type InvariantViolation struct {
	Index allocset.Index
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("graph: edge references nonexistent allocation %d", e.Index)
}
