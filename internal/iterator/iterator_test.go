// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iterator

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
)

type fakeVAM struct {
	base core.Offset
	buf  []byte
}

func (f *fakeVAM) Find(addr core.Offset) ([]byte, int64) {
	if addr < f.base || addr >= f.base+core.Offset(len(f.buf)) {
		return nil, 0
	}
	off := addr.Sub(f.base)
	return f.buf[off:], int64(len(f.buf)) - off
}

func (f *fakeVAM) putPtr(addr core.Offset, v uint64) {
	off := addr.Sub(f.base)
	binary.LittleEndian.PutUint64(f.buf[off:], v)
}

func drain(it Iterator, end allocset.Index) []allocset.Index {
	var out []allocset.Index
	for {
		i := it.Next()
		if i == end {
			return out
		}
		out = append(out, i)
	}
}

func TestAllocationsIterator(t *testing.T) {
	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x10, Used: true},
		{Address: 0x2000, Size: 0x10, Used: true},
	})
	g := testGraph(finder)
	got := drain(Allocations(g), g.N())
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("Allocations = %v", got)
	}
}

// testGraph builds an unbuilt Graph: fine for iterators like
// Allocations that only read Finder/N, since Build is only needed once
// classification or adjacency is queried.
func testGraph(f *allocset.Finder) *graph.Graph {
	return graph.New(f)
}

// Chain yields the start allocation, follows one valid link, then stops
// when a subsequent link is unmapped or out of range.
func TestChainFollowsOneValidLink(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x40)} // no bytes at 0x2000+
	vam.putPtr(0x1008, 0x2000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := graph.New(finder)
	it := Chain(g, vam, 0x1008, 0x8, 8, false)
	got := drain(it, g.N())
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("chain = %v, want [A, B]", got)
	}
}

func TestChainStopsWhenLinkIsFlushWithAllocationEnd(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x40)}
	vam.putPtr(0x1008, 0x2000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := graph.New(finder)
	// link offset 0x38 + ptrSize 8 == size 0x40 exactly, so the link
	// doesn't fit.
	it := Chain(g, vam, 0x1008, 0x38, 8, false)
	got := drain(it, g.N())
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("chain = %v, want [A] only", got)
	}
}

func TestReachTransitiveClosure(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x2040)}
	vam.putPtr(0x1000, 0x2000) // A -> B
	vam.putPtr(0x2000, 0x3000) // B -> C

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x10, Used: true},
		{Address: 0x2000, Size: 0x10, Used: true},
		{Address: 0x3000, Size: 0x10, Used: true},
	})
	g := graph.New(finder)
	if err := g.Build(context.Background(), graph.BuildInput{VAM: vam, PtrSize: 8}); err != nil {
		t.Fatal(err)
	}
	got := drain(Reach(g, 0x1000), g.N())
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Reach(A) = %v, want [B, C]", got)
	}
	got = drain(Retained(g, 0x3000), g.N())
	if len(got) != 2 {
		t.Fatalf("Retained(C) = %v, want 2 ancestors", got)
	}
}
