// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package allocset

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/coredump-tools/heapwalk/internal/core"
)

// A Source produces the allocation list that seeds a Finder. Real
// allocator-recognition code (walking glibc malloc chunks, jemalloc runs,
// tcmalloc spans, ...) is explicitly out of scope for this module. Source
// is the seam such code would implement; ReadSnapshot below is the one
// concrete Source this repo ships, for tests and for offline analysis of
// a pre-extracted allocation list.
type Source interface {
	Allocations() ([]Allocation, error)
}

type sliceSource []Allocation

func (s sliceSource) Allocations() ([]Allocation, error) { return []Allocation(s), nil }

// FromSlice wraps an already-built allocation list as a Source.
func FromSlice(allocs []Allocation) Source { return sliceSource(allocs) }

// ReadSnapshot parses a simple line-oriented allocation snapshot:
//
//	<address-hex> <size> <used>
//
// one allocation per line, blank lines and "#"-prefixed comments ignored.
// <used> is "1"/"true" for an in-use block, "0"/"false" for a
// recognized-but-freed one. Lines need not be address-sorted; ReadSnapshot
// sorts them before handing the result to New, since that's a property of
// the data, not of the source file format.
func ReadSnapshot(r io.Reader) (*Finder, error) {
	var allocs []Allocation
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("snapshot line %d: want 3 fields, got %d", lineNo, len(fields))
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot line %d: bad address %q: %v", lineNo, fields[0], err)
		}
		size, err := strconv.ParseInt(fields[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot line %d: bad size %q: %v", lineNo, fields[1], err)
		}
		used, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, fmt.Errorf("snapshot line %d: bad used flag %q: %v", lineNo, fields[2], err)
		}
		allocs = append(allocs, Allocation{Address: core.Offset(addr), Size: size, Used: used})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].Address < allocs[j].Address })
	for i := 1; i < len(allocs); i++ {
		if allocs[i].Address <= allocs[i-1].Address {
			return nil, fmt.Errorf("snapshot: duplicate or overlapping allocation address %#x", uint64(allocs[i].Address))
		}
	}
	return New(allocs), nil
}
