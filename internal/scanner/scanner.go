// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scanner implements the Reference Scanner (C4): given one
// allocation, it finds every outgoing pointer from that allocation to
// another allocation, by walking each pointer-sized aligned word of the
// allocation's bytes through the virtual address map and resolving it
// through the Allocation Finder.
//
// This is deliberately conservative in the same way the teacher's
// forEachGlobalPtr / heap-bitmap scan is conservative: any aligned word
// whose value lands inside a recognized allocation is treated as a
// pointer, whether or not it actually is one. A native heap has no type
// metadata to do better with, and every recorded edge resolves through
// AllocationIndexOf, so a false positive is "points at a real
// allocation", never "points at garbage".
package scanner

import (
	"sort"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
)

// VirtualAddressMap is the subset of core.Process the scanner needs.
type VirtualAddressMap interface {
	Find(addr core.Offset) ([]byte, int64)
}

// An Edge is one outgoing reference: the byte offset within the source
// allocation where the pointer word was found, and the index of the
// allocation it points into.
type Edge struct {
	LinkOffset int64
	Target     allocset.Index
}

// Scan walks every pointer-sized aligned word of the allocation at index i
// and returns one Edge per distinct target allocation reached, plus the
// lowest LinkOffset at which that target was found (so results are
// deterministic regardless of map iteration order). Self-edges (an
// allocation pointing at itself) are suppressed: an allocation is never
// its own anchor, a constraint carried through to the graph layer.
func Scan(vam VirtualAddressMap, finder *allocset.Finder, i allocset.Index, ptrSize int64, bigEndian bool) []Edge {
	a := finder.AllocationAt(i)
	first := map[allocset.Index]int64{}

	for off := int64(0); off+ptrSize <= a.Size; off += ptrSize {
		addr := a.Address.Add(off)
		b, n := vam.Find(addr)
		if n < ptrSize {
			continue
		}
		v := readPtr(b, ptrSize, bigEndian)
		j := finder.AllocationIndexOf(core.Offset(v))
		if j == finder.NumAllocations() || j == i {
			continue
		}
		if _, ok := first[j]; !ok {
			first[j] = off
		}
	}

	edges := make([]Edge, 0, len(first))
	for j, off := range first {
		edges = append(edges, Edge{LinkOffset: off, Target: j})
	}
	sort.Slice(edges, func(x, y int) bool { return edges[x].Target < edges[y].Target })
	return edges
}

func readPtr(b []byte, ptrSize int64, bigEndian bool) uint64 {
	var v uint64
	if ptrSize == 4 {
		if bigEndian {
			v = uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		} else {
			v = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
		}
		return v
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
