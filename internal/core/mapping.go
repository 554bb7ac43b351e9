// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"
)

// A Mapping represents a contiguous subset of the inferior's address space.
type Mapping struct {
	min  Offset
	max  Offset
	perm Perm

	// Contents of the mapping, length == max-min. Segments with no data
	// in the core file (e.g. MADV_DONTDUMP'd pages) are zero-filled by
	// readLoad. A nil slice is treated as unmapped: Find reports length 0.
	contents []byte

	source    string
	sourceOff int64
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Offset { return m.min }

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Offset { return m.max }

// Size returns int64(Max-Min).
func (m *Mapping) Size() int64 { return m.max.Sub(m.min) }

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm { return m.perm }

// Source returns the backing file name and offset for the mapping, or "", 0
// if the mapping has no known backing file (e.g. an anonymous region).
func (m *Mapping) Source() (string, int64) { return m.source, m.sourceOff }

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var b []string
	if p&Read != 0 {
		b = append(b, "r")
	} else {
		b = append(b, "-")
	}
	if p&Write != 0 {
		b = append(b, "w")
	} else {
		b = append(b, "-")
	}
	if p&Exec != 0 {
		b = append(b, "x")
	} else {
		b = append(b, "-")
	}
	return strings.Join(b, "")
}

// We assume every mapping starts and ends at a multiple of 4K, matching the
// host page granularity used throughout ELF core files. The other 64-12=52
// bits of the address are split into five page-table levels (12+10+10+10+10).
const pageShift = 12
const pageSize = 1 << pageShift

type pageTable0 [1 << 10]*Mapping
type pageTable1 [1 << 10]*pageTable0
type pageTable2 [1 << 10]*pageTable1
type pageTable3 [1 << 10]*pageTable2
type pageTable4 [1 << 12]*pageTable3

func (p *Process) findMapping(a Offset) *Mapping {
	t3 := p.pageTable[a>>52]
	if t3 == nil {
		return nil
	}
	t2 := t3[a>>42%(1<<10)]
	if t2 == nil {
		return nil
	}
	t1 := t2[a>>32%(1<<10)]
	if t1 == nil {
		return nil
	}
	t0 := t1[a>>22%(1<<10)]
	if t0 == nil {
		return nil
	}
	return t0[a>>12%(1<<10)]
}

func (p *Process) addMapping(m *Mapping) error {
	if m.min%pageSize != 0 {
		return fmt.Errorf("mapping start %x isn't a multiple of %d", m.min, pageSize)
	}
	if m.max%pageSize != 0 {
		return fmt.Errorf("mapping end %x isn't a multiple of %d", m.max, pageSize)
	}
	for a := m.min; a < m.max; a += pageSize {
		i3 := a >> 52
		t3 := p.pageTable[i3]
		if t3 == nil {
			t3 = new(pageTable3)
			p.pageTable[i3] = t3
		}
		i2 := a >> 42 % (1 << 10)
		t2 := t3[i2]
		if t2 == nil {
			t2 = new(pageTable2)
			t3[i2] = t2
		}
		i1 := a >> 32 % (1 << 10)
		t1 := t2[i1]
		if t1 == nil {
			t1 = new(pageTable1)
			t2[i1] = t1
		}
		i0 := a >> 22 % (1 << 10)
		t0 := t1[i0]
		if t0 == nil {
			t0 = new(pageTable0)
			t1[i0] = t0
		}
		t0[a>>12%(1<<10)] = m
	}
	return nil
}
