// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package allocset

import (
	"strings"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/core"
)

func testFinder() *Finder {
	return New([]Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
		{Address: 0x3000, Size: 0x10, Used: false},
	})
}

func TestAllocationIndexOfInterior(t *testing.T) {
	f := testFinder()
	tests := []struct {
		addr core.Offset
		want Index
	}{
		{0x1000, 0},
		{0x103f, 0},
		{0x1040, f.NumAllocations()},
		{0x2010, 1},
		{0x3000, 2},
		{0xdead, f.NumAllocations()},
	}
	for _, tc := range tests {
		if got := f.AllocationIndexOf(tc.addr); got != tc.want {
			t.Errorf("AllocationIndexOf(%#x) = %d, want %d", tc.addr, got, tc.want)
		}
	}
}

func TestKind(t *testing.T) {
	f := testFinder()
	if f.AllocationAt(0).Kind() != InUse {
		t.Error("allocation 0 should be InUse")
	}
	if f.AllocationAt(2).Kind() != FreeRecognized {
		t.Error("allocation 2 should be FreeRecognized")
	}
}

func TestNewPanicsOnUnsortedInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New did not panic on non-increasing addresses")
		}
	}()
	New([]Allocation{{Address: 0x2000, Size: 0x10}, {Address: 0x1000, Size: 0x10}})
}

func TestReadSnapshot(t *testing.T) {
	r := strings.NewReader(`
# a comment
0x2000 0x20 true
0x1000 0x40 1
0x3000 0x10 false
`)
	f, err := ReadSnapshot(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.NumAllocations() != 3 {
		t.Fatalf("NumAllocations = %d, want 3", f.NumAllocations())
	}
	if f.AllocationAt(0).Address != 0x1000 {
		t.Errorf("snapshot not sorted by address: first = %#x", f.AllocationAt(0).Address)
	}
}
