// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scanner

import (
	"encoding/binary"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
)

// fakeVAM is a single contiguous mapped region, enough for the small
// synthetic graphs these tests construct.
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

// Two allocations with a pointer from A's body to B yields exactly one
// edge, with no self-edges or duplicate edges.
func TestScanFindsSinglePointerBetweenTwoAllocations(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x1040)}
	vam.putPtr(0x1010, 0x2000)

	f := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})

	edges := Scan(vam, f, 0, 8, false)
	if len(edges) != 1 || edges[0].Target != 1 {
		t.Fatalf("Scan(A) = %+v, want single edge to B", edges)
	}

	edges = Scan(vam, f, 1, 8, false)
	if len(edges) != 0 {
		t.Fatalf("Scan(B) = %+v, want no edges", edges)
	}
}

func TestScanSuppressesSelfEdges(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x40)}
	vam.putPtr(0x1008, 0x1000) // points at itself

	f := allocset.New([]allocset.Allocation{{Address: 0x1000, Size: 0x40, Used: true}})
	edges := Scan(vam, f, 0, 8, false)
	if len(edges) != 0 {
		t.Fatalf("Scan with self-pointer = %+v, want no edges", edges)
	}
}

func TestScanCoalescesDuplicateTargets(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x40)}
	vam.putPtr(0x1000, 0x2000)
	vam.putPtr(0x1008, 0x2008) // interior pointer into the same target

	f := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	edges := Scan(vam, f, 0, 8, false)
	if len(edges) != 1 {
		t.Fatalf("Scan = %+v, want exactly one coalesced edge", edges)
	}
	if edges[0].LinkOffset != 0 {
		t.Errorf("LinkOffset = %d, want 0 (first occurrence)", edges[0].LinkOffset)
	}
}
