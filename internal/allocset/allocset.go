// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package allocset is the Allocation Finder (C2): it holds the dense,
// address-sorted list of every allocation recognized in a core dump and
// answers address -> index queries, including for interior pointers.
package allocset

import (
	"sort"

	"github.com/coredump-tools/heapwalk/internal/core"
)

// Index identifies an allocation. Index(N) — where N == len(allocations) —
// is the sentinel meaning "no allocation".
type Index int

// An Allocation is one block recognized by the allocator, in use or
// recognized-but-freed. address is byte-aligned to at least the allocator's
// pointer alignment.
type Allocation struct {
	Address core.Offset
	Size    int64
	Used    bool
}

// Kind is a display-only classification derived from Used; it is not a
// stored field, so it cannot drift out of sync with Used.
type Kind int

const (
	InUse Kind = iota
	FreeRecognized
)

func (a Allocation) Kind() Kind {
	if a.Used {
		return InUse
	}
	return FreeRecognized
}

// A Finder is an immutable, address-sorted allocation table supporting
// O(log N) containment queries. Addresses must be strictly increasing
// across the table for binary search to be valid; New enforces this on
// construction.
type Finder struct {
	allocs []Allocation
}

// New builds a Finder from allocs, which must already be sorted in strictly
// increasing order by Address (as any real allocator's populate step would
// produce, since allocator metadata is itself address-ordered). New panics
// if that invariant doesn't hold — same treatment as other InvariantViolation
// conditions in this codebase: a caller bug, not a runtime data problem.
func New(allocs []Allocation) *Finder {
	for i := 1; i < len(allocs); i++ {
		if allocs[i].Address <= allocs[i-1].Address {
			panic("allocset: allocations are not strictly increasing by address")
		}
	}
	return &Finder{allocs: allocs}
}

// NumAllocations returns N, the number of allocations in the table.
func (f *Finder) NumAllocations() Index {
	return Index(len(f.allocs))
}

// AllocationAt returns the allocation at index i. It is undefined (and may
// panic) for i == f.NumAllocations().
func (f *Finder) AllocationAt(i Index) *Allocation {
	return &f.allocs[i]
}

// AllocationIndexOf returns the index of the allocation containing addr —
// including interior addresses, not just the allocation's start — or N if
// addr isn't inside any allocation.
func (f *Finder) AllocationIndexOf(addr core.Offset) Index {
	// sort.Search finds the first allocation whose end is past addr;
	// that's the only candidate that could contain it.
	n := len(f.allocs)
	i := sort.Search(n, func(i int) bool {
		return f.allocs[i].Address+core.Offset(f.allocs[i].Size) > addr
	})
	if i == n {
		return Index(n)
	}
	a := f.allocs[i]
	if addr < a.Address || addr >= a.Address+core.Offset(a.Size) {
		return Index(n)
	}
	return Index(i)
}
