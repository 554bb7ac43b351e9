// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/roots"
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

// buildTwoAllocGraph constructs A@0x1000 size 0x40 pointing at
// B@0x2000 size 0x20, with no roots.
func buildTwoAllocGraph(t *testing.T) (*Graph, *fakeVAM) {
	t.Helper()
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x1040)}
	vam.putPtr(0x1010, 0x2000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := New(finder)
	if err := g.Build(context.Background(), BuildInput{VAM: vam, PtrSize: 8}); err != nil {
		t.Fatal(err)
	}
	return g, vam
}

func TestBuildWithNoRootsClassifiesBothLeaked(t *testing.T) {
	g, _ := buildTwoAllocGraph(t)
	out := g.Out(0)
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("Out(A) = %v, want [B]", out)
	}
	in := g.In(1)
	if len(in) != 1 || in[0] != 0 {
		t.Fatalf("In(B) = %v, want [A]", in)
	}
	if g.Class(0) != Leaked || g.Class(1) != Leaked {
		t.Errorf("classes = %v, %v, want both Leaked", g.Class(0), g.Class(1))
	}
}

// A static root holding a pointer to A propagates StaticAnchor through
// A's own pointer to B, even though B itself has no direct root.
func TestStaticRootAnchorsTransitively(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x6050)}
	vam.putPtr(0x1010, 0x2000)
	vam.putPtr(0x7000, 0x1000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := New(finder)
	err := g.Build(context.Background(), BuildInput{
		VAM:           vam,
		StaticRegions: []roots.StaticRegion{{ModuleName: "data", Min: 0x7000, Max: 0x7010}},
		PtrSize:       8,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Class(0) != StaticAnchor {
		t.Errorf("Class(A) = %v, want StaticAnchor", g.Class(0))
	}
	if g.Class(1) != StaticAnchor {
		t.Errorf("Class(B) = %v, want StaticAnchor (indirect)", g.Class(1))
	}
	if len(g.StaticRoots(0)) != 1 {
		t.Errorf("StaticRoots(A) = %v, want one root", g.StaticRoots(0))
	}
	if len(g.StaticRoots(1)) != 0 {
		t.Errorf("StaticRoots(B) = %v, want no direct roots", g.StaticRoots(1))
	}
}

type recordingVisitor struct {
	headers int
	links   []core.Offset
}

func (r *recordingVisitor) VisitStaticAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	r.headers++
	return false
}
func (r *recordingVisitor) VisitStackAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	return false
}
func (r *recordingVisitor) VisitRegisterAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	return false
}
func (r *recordingVisitor) VisitChainLink(addr core.Offset, size int64, bytes []byte) {
	r.links = append(r.links, addr)
}

func TestVisitStaticAnchorChains(t *testing.T) {
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x6050)}
	vam.putPtr(0x1010, 0x2000)
	vam.putPtr(0x7000, 0x1000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := New(finder)
	if err := g.Build(context.Background(), BuildInput{
		VAM:           vam,
		StaticRegions: []roots.StaticRegion{{ModuleName: "data", Min: 0x7000, Max: 0x7010}},
		PtrSize:       8,
	}); err != nil {
		t.Fatal(err)
	}

	rv := &recordingVisitor{}
	g.VisitStaticAnchorChains(vam, 1, rv)
	if rv.headers != 1 {
		t.Fatalf("headers = %d, want 1", rv.headers)
	}
	if len(rv.links) != 1 || rv.links[0] != 0x2000 {
		t.Fatalf("links = %v, want [0x2000]", rv.links)
	}
}
