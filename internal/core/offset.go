// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core reads an ELF core file into a virtual address map: a set of
// byte-addressable mappings with permissions, plus the register file of each
// OS thread that was running at the time of the dump. There is nothing
// domain-specific about this package — it is the same reader whether the
// dumped process was a C, C++, or any other native program, since it only
// ever deals in raw bytes and mappings. The allocation-aware layers live in
// sibling packages under internal/.
package core

// Offset is a pointer-sized unsigned virtual address or size. Every address,
// size, and signature value that flows through the analyzer is an Offset;
// the only platform parameter that varies is PtrSize (4 or 8), which governs
// alignment and scan stride, not the representation of Offset itself.
type Offset uint64

// Add returns o+n.
func (o Offset) Add(n int64) Offset {
	return Offset(int64(o) + n)
}

// Sub returns o-p.
func (o Offset) Sub(p Offset) int64 {
	return int64(o) - int64(p)
}

// Max returns the larger of o and p.
func (o Offset) Max(p Offset) Offset {
	if o > p {
		return o
	}
	return p
}

// Min returns the smaller of o and p.
func (o Offset) Min(p Offset) Offset {
	if o < p {
		return o
	}
	return p
}
