// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package roots implements the Root Enumerators (C5): static memory,
// thread stacks, and thread register files, each walked for candidate
// pointers into the allocation set.
package roots

import "github.com/coredump-tools/heapwalk/internal/core"

// Kind distinguishes the three root flavors: static memory, thread
// stacks, and thread registers.
type Kind int

const (
	Static Kind = iota
	Stack
	Register
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Stack:
		return "stack"
	case Register:
		return "register"
	}
	return "unknown"
}

// A Root is one (kind, source-descriptor) pair: enough information to
// explain, to a human, where a retaining pointer lives.
type Root struct {
	Kind Kind

	// Static: the module the address falls within.
	ModuleName string
	// Static: the address itself, inside the module.
	StaticAddr core.Offset

	// Stack and Register: which thread.
	ThreadID uint64
	// Stack: the stack address holding the pointer.
	StackAddr core.Offset
	// Register: the register's name.
	RegisterName string
}

// A StaticRegion is one contiguous block of static (module-owned) memory —
// the generalization of a Go module's .data/.bss, or a C/C++ shared
// object's writable data segment. A module directory is exactly a list
// of these.
type StaticRegion struct {
	ModuleName string
	Min, Max   core.Offset
}

// ThreadInfo describes one thread's stack bounds and register file,
// resolved ahead of time from a thread map that knows how to turn a
// stack address into a thread id and enumerate its register file.
type ThreadInfo struct {
	ID      uint64
	StackLo core.Offset
	StackHi core.Offset
	Regs    []core.Register
}

// VirtualAddressMap is the subset of core.Process the enumerators need:
// raw byte access, nothing about allocations.
type VirtualAddressMap interface {
	Find(addr core.Offset) ([]byte, int64)
}

// wordAt reads a pointer-sized, little/big-endian aware word at addr, or
// reports ok=false if the read can't be satisfied — never fatal, just
// "no pointer here".
func wordAt(vam VirtualAddressMap, addr core.Offset, ptrSize int64, bigEndian bool) (core.Offset, bool) {
	b, n := vam.Find(addr)
	if n < ptrSize {
		return 0, false
	}
	var v uint64
	if ptrSize == 4 {
		if bigEndian {
			v = uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		} else {
			v = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
		}
	} else {
		if bigEndian {
			for i := 0; i < 8; i++ {
				v = v<<8 | uint64(b[i])
			}
		} else {
			for i := 7; i >= 0; i-- {
				v = v<<8 | uint64(b[i])
			}
		}
	}
	return core.Offset(v), true
}

// A Word is one candidate pointer found by an enumerator: the root it came
// from, and the value read (or, for register roots, the register's raw
// value — registers have no backing memory address of their own).
type Word struct {
	Root  Root
	Value core.Offset
}

// EnumerateStatic walks every pointer-sized, pointer-aligned word in each
// static region and yields a Word for each. Regions are assumed
// non-overlapping; addresses are visited in ascending order within each
// region, and regions in the order given, so results are deterministic.
func EnumerateStatic(vam VirtualAddressMap, regions []StaticRegion, ptrSize int64, bigEndian bool) []Word {
	var out []Word
	for _, r := range regions {
		for a := r.Min; a+core.Offset(ptrSize) <= r.Max; a = a.Add(ptrSize) {
			v, ok := wordAt(vam, a, ptrSize, bigEndian)
			if !ok {
				continue
			}
			out = append(out, Word{
				Root:  Root{Kind: Static, ModuleName: r.ModuleName, StaticAddr: a},
				Value: v,
			})
		}
	}
	return out
}

// EnumerateStack walks every pointer-sized, pointer-aligned word in each
// thread's stack slice and yields a Word for each.
func EnumerateStack(vam VirtualAddressMap, threads []ThreadInfo, ptrSize int64, bigEndian bool) []Word {
	var out []Word
	for _, t := range threads {
		for a := t.StackLo; a+core.Offset(ptrSize) <= t.StackHi; a = a.Add(ptrSize) {
			v, ok := wordAt(vam, a, ptrSize, bigEndian)
			if !ok {
				continue
			}
			out = append(out, Word{
				Root:  Root{Kind: Stack, ThreadID: t.ID, StackAddr: a},
				Value: v,
			})
		}
	}
	return out
}

// EnumerateRegister yields one Word per register in each thread's register
// file. Unlike static/stack roots, a register has no address of its own —
// the register's value is itself the candidate pointer.
func EnumerateRegister(threads []ThreadInfo) []Word {
	var out []Word
	for _, t := range threads {
		for _, r := range t.Regs {
			out = append(out, Word{
				Root:  Root{Kind: Register, ThreadID: t.ID, RegisterName: r.Name},
				Value: core.Offset(r.Value),
			})
		}
	}
	return out
}
