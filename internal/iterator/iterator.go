// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iterator implements the Iterators (C7): lazy, finite,
// single-pass producers of allocation indices, named by "set name" for
// the command surface (C9) to look up.
package iterator

import (
	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
)

// Iterator is the single operation every set exposes: successive
// allocation indices, then N ("no allocation") forever after.
type Iterator interface {
	Next() allocset.Index
}

// VirtualAddressMap is the subset of core.Process the chain iterator
// needs to read link words.
type VirtualAddressMap interface {
	Find(addr core.Offset) ([]byte, int64)
}

// sliceIter replays a precomputed, ordered index slice. Several sets
// below are most naturally computed eagerly (a BFS has to run to
// completion to know its own order); sliceIter still satisfies the
// single-pass pull contract Iterator promises callers.
type sliceIter struct {
	vals []allocset.Index
	pos  int
	end  allocset.Index
}

func (s *sliceIter) Next() allocset.Index {
	if s.pos >= len(s.vals) {
		return s.end
	}
	v := s.vals[s.pos]
	s.pos++
	return v
}

func newSliceIter(end allocset.Index, vals []allocset.Index) Iterator {
	return &sliceIter{vals: vals, end: end}
}

// Allocations yields every allocation index in order.
func Allocations(g *graph.Graph) Iterator {
	n := g.N()
	vals := make([]allocset.Index, 0, n)
	for i := allocset.Index(0); i < n; i++ {
		vals = append(vals, i)
	}
	return newSliceIter(n, vals)
}

// classFilter yields every index whose classification is in kinds, in
// ascending order.
func classFilter(g *graph.Graph, kinds map[graph.AnchorKind]bool) Iterator {
	n := g.N()
	var vals []allocset.Index
	for i := allocset.Index(0); i < n; i++ {
		if kinds[g.Class(i)] {
			vals = append(vals, i)
		}
	}
	return newSliceIter(n, vals)
}

func Anchored(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{
		graph.StaticAnchor: true, graph.StackAnchor: true, graph.RegisterAnchor: true,
	})
}

func StaticAnchored(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{graph.StaticAnchor: true})
}

func StackAnchored(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{graph.StackAnchor: true})
}

func RegisterAnchored(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{graph.RegisterAnchor: true})
}

func ThreadCached(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{graph.ThreadCached: true})
}

func Leaked(g *graph.Graph) Iterator {
	return classFilter(g, map[graph.AnchorKind]bool{graph.Leaked: true})
}

// Unreferenced yields every allocation with no incoming edge at all —
// nothing else in the allocation set points to it. This is distinct from
// Leaked, which asks whether any *root* reaches it: an allocation can be
// directly rooted yet still have no incoming allocation edge, or be
// leaked yet still be pointed to by other leaked garbage. Not part of
// the anchored/leaked/threadcached partition (P4); an additional,
// orthogonal filter.
func Unreferenced(g *graph.Graph) Iterator {
	n := g.N()
	var vals []allocset.Index
	for i := allocset.Index(0); i < n; i++ {
		if len(g.In(i)) == 0 {
			vals = append(vals, i)
		}
	}
	return newSliceIter(n, vals)
}

// Outgoing yields the allocations directly pointed to by the allocation
// containing addr.
func Outgoing(g *graph.Graph, addr core.Offset) Iterator {
	return fromStart(g, addr, func(i allocset.Index) []allocset.Index { return g.Out(i) }, false)
}

// Incoming yields the allocations that directly point to the allocation
// containing addr.
func Incoming(g *graph.Graph, addr core.Offset) Iterator {
	return fromStart(g, addr, func(i allocset.Index) []allocset.Index { return g.In(i) }, false)
}

// Reach yields the transitive closure, over out-edges, of the allocation
// containing addr (excluding the start itself).
func Reach(g *graph.Graph, addr core.Offset) Iterator {
	return fromStart(g, addr, func(i allocset.Index) []allocset.Index { return g.Out(i) }, true)
}

// Retained yields the transitive closure, over in-edges, of the
// allocation containing addr (excluding the start itself) — the set of
// allocations that keep it alive, direct or indirect.
func Retained(g *graph.Graph, addr core.Offset) Iterator {
	return fromStart(g, addr, func(i allocset.Index) []allocset.Index { return g.In(i) }, true)
}

func fromStart(g *graph.Graph, addr core.Offset, adj func(allocset.Index) []allocset.Index, transitive bool) Iterator {
	n := g.N()
	start := g.Finder().AllocationIndexOf(addr)
	if start == n {
		return newSliceIter(n, nil)
	}
	if !transitive {
		return newSliceIter(n, adj(start))
	}
	visited := map[allocset.Index]bool{start: true}
	queue := []allocset.Index{start}
	var vals []allocset.Index
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj(u) {
			if visited[v] {
				continue
			}
			visited[v] = true
			vals = append(vals, v)
			queue = append(queue, v)
		}
	}
	return newSliceIter(n, vals)
}

// Chain starts from the allocation containing addr and, on each
// subsequent Next, follows the pointer at byte offset linkOffset within
// the current allocation to find the next one, stopping when the link
// doesn't fit or doesn't resolve. The starting allocation is always
// yielded first, even if its own link is invalid.
func Chain(g *graph.Graph, vam VirtualAddressMap, addr core.Offset, linkOffset int64, ptrSize int64, bigEndian bool) Iterator {
	n := g.N()
	start := g.Finder().AllocationIndexOf(addr)
	return &chainIter{g: g, vam: vam, linkOffset: linkOffset, ptrSize: ptrSize, bigEndian: bigEndian, cur: start, end: n, first: true}
}

type chainIter struct {
	g          *graph.Graph
	vam        VirtualAddressMap
	linkOffset int64
	ptrSize    int64
	bigEndian  bool
	cur        allocset.Index
	end        allocset.Index
	first      bool
	done       bool
}

func (c *chainIter) Next() allocset.Index {
	if c.done || c.cur == c.end {
		return c.end
	}
	if c.first {
		c.first = false
		return c.cur
	}
	a := c.g.Finder().AllocationAt(c.cur)
	// A link exactly flush with the end of the allocation is treated as
	// not fitting, not as the last valid word: a link at offset o into an
	// allocation of size n only fits when o+ptrSize < n, not <=, so a link
	// occupying the final ptrSize bytes is considered to overrun even
	// though it's technically still in-bounds.
	if c.linkOffset < 0 || c.linkOffset+c.ptrSize >= a.Size {
		c.done = true
		return c.end
	}
	b, n := c.vam.Find(a.Address.Add(c.linkOffset))
	if n < c.ptrSize {
		c.done = true
		return c.end
	}
	v := readPtr(b, c.ptrSize, c.bigEndian)
	next := c.g.Finder().AllocationIndexOf(core.Offset(v))
	if next == c.end {
		c.done = true
		return c.end
	}
	c.cur = next
	return next
}

func readPtr(b []byte, ptrSize int64, bigEndian bool) uint64 {
	var v uint64
	if ptrSize == 4 {
		if bigEndian {
			return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		}
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	}
	if bigEndian {
		for i := 0; i < 8; i++ {
			v = v<<8 | uint64(b[i])
		}
	} else {
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	}
	return v
}
