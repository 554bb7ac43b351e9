// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

import (
	"sort"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/roots"
)

// AnchorChainVisitor is the capability interface a caller implements to
// receive anchor-chain explanations from VisitStaticAnchorChains and its
// stack/register analogs. Each header method returns true to skip that
// chain's body, mirroring the source's virtual-dispatch VisitX callbacks
// without requiring a distinct type per chain kind.
type AnchorChainVisitor interface {
	VisitStaticAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool
	VisitStackAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool
	VisitRegisterAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool
	VisitChainLink(addr core.Offset, size int64, bytes []byte)
}

// VisitStaticAnchorChains explains why allocation t is retained by way
// of static roots: for each allocation directly rooted by a static root
// and from which t is reachable, it emits a header followed by the
// shortest chain of links to t. If t itself is directly rooted (the
// direct anchor), its header comes first; the other anchor points follow
// in ascending address order.
func (g *Graph) VisitStaticAnchorChains(vam VirtualAddressMap, t allocset.Index, v AnchorChainVisitor) {
	g.visitAnchorChains(vam, g.staticRoots, t, v.VisitStaticAnchorChainHeader, v.VisitChainLink)
}

// VisitStackAnchorChains is the stack-root analog of
// VisitStaticAnchorChains.
func (g *Graph) VisitStackAnchorChains(vam VirtualAddressMap, t allocset.Index, v AnchorChainVisitor) {
	g.visitAnchorChains(vam, g.stackRoots, t, v.VisitStackAnchorChainHeader, v.VisitChainLink)
}

// VisitRegisterAnchorChains is the register-root analog of
// VisitStaticAnchorChains.
func (g *Graph) VisitRegisterAnchorChains(vam VirtualAddressMap, t allocset.Index, v AnchorChainVisitor) {
	g.visitAnchorChains(vam, g.registerRoots, t, v.VisitRegisterAnchorChainHeader, v.VisitChainLink)
}

func (g *Graph) visitAnchorChains(
	vam VirtualAddressMap,
	rootMap map[allocset.Index][]roots.Root,
	t allocset.Index,
	header func([]roots.Root, core.Offset, int64, []byte) bool,
	link func(core.Offset, int64, []byte),
) {
	if len(rootMap) == 0 {
		return
	}

	dist := g.distanceTo(t)

	candidates := make([]int, 0, len(rootMap))
	for a := range rootMap {
		if dist[a] >= 0 {
			candidates = append(candidates, int(a))
		}
	}
	sort.Ints(candidates)
	// The direct anchor (t itself) goes first, so a visitor capping
	// indirect anchor points after a direct one sees the direct one first.
	for k, ai := range candidates {
		if allocset.Index(ai) == t {
			copy(candidates[1:k+1], candidates[:k])
			candidates[0] = ai
			break
		}
	}

	for _, ai := range candidates {
		a := allocset.Index(ai)
		addr, size, body := g.fetch(vam, a)
		if header(rootMap[a], addr, size, body) {
			continue
		}
		if a == t {
			// Direct anchor: header only.
			continue
		}
		for _, node := range g.shortestPath(dist, a, t) {
			addr, size, body := g.fetch(vam, node)
			link(addr, size, body)
		}
	}
}

// distanceTo computes, for every allocation, its shortest forward-edge
// distance to t, or -1 if t is unreachable from it. It does this with a
// single BFS over the reverse adjacency starting at t: walking reverse
// edges from t visits ancestors of t in nondecreasing order of their
// forward distance to t.
func (g *Graph) distanceTo(t allocset.Index) []int32 {
	n := len(g.fOff) - 1
	dist := make([]int32, n)
	for i := range dist {
		dist[i] = -1
	}
	dist[t] = 0
	queue := []int32{int32(t)}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.rTo[g.rOff[u]:g.rOff[u+1]] {
			if dist[v] >= 0 {
				continue
			}
			dist[v] = dist[u] + 1
			queue = append(queue, v)
		}
	}
	return dist
}

// shortestPath reconstructs one shortest path from a to t (exclusive of
// a, inclusive of t), given dist as computed by distanceTo(t). At each
// step it advances to the lowest-indexed successor whose distance to t
// is exactly one less than the current node's, making the chosen path
// deterministic even when several shortest paths exist.
func (g *Graph) shortestPath(dist []int32, a, t allocset.Index) []allocset.Index {
	var path []allocset.Index
	cur := a
	for cur != t {
		next := allocset.Index(-1)
		for _, v := range g.fTo[g.fOff[cur]:g.fOff[cur+1]] {
			if dist[v] == dist[cur]-1 {
				if next == -1 || allocset.Index(v) < next {
					next = allocset.Index(v)
				}
			}
		}
		if next == -1 {
			// Cannot happen if dist was computed from the same graph
			// snapshot: t is reachable from cur by construction, so some
			// forward edge out of cur must close the gap by one.
			panic(&InvariantViolation{Index: cur})
		}
		path = append(path, next)
		cur = next
	}
	return path
}

func (g *Graph) fetch(vam VirtualAddressMap, i allocset.Index) (core.Offset, int64, []byte) {
	a := g.finder.AllocationAt(i)
	body := readBytes(vam, a.Address, a.Size)
	return a.Address, a.Size, body
}

// readBytes reads up to size bytes starting at addr through vam,
// truncating at the first unmapped or short region rather than failing:
// a caller sees whatever prefix of the allocation is actually mapped.
func readBytes(vam VirtualAddressMap, addr core.Offset, size int64) []byte {
	out := make([]byte, 0, size)
	for int64(len(out)) < size {
		b, n := vam.Find(addr.Add(int64(len(out))))
		if n <= 0 {
			break
		}
		want := size - int64(len(out))
		if int64(len(b)) > want {
			b = b[:want]
		}
		if int64(len(b)) > n {
			b = b[:n]
		}
		out = append(out, b...)
		if int64(len(b)) == 0 {
			break
		}
	}
	return out
}
