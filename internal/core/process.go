// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"
)

// A Process represents the virtual address space and thread state of a
// process that dumped core. It is the concrete implementation of the
// "Virtual Address Map" consumed interface from the analyzer's core: a
// single Find(addr) operation that returns the bytes backing an address, or
// a zero-length result if the address isn't mapped.
type Process struct {
	memory    []*Mapping
	threads   []*Thread
	arch      string
	ptrSize   int64
	byteOrder binary.ByteOrder
	pageTable pageTable4

	warnings []string
}

// Mappings returns a list of virtual memory mappings for p.
func (p *Process) Mappings() []*Mapping {
	return p.memory
}

// Find returns the bytes backing addr and the length of the contiguous
// region starting there, per the VirtualAddressMap contract in the core
// spec. A zero length means addr is unmapped.
func (p *Process) Find(addr Offset) ([]byte, int64) {
	m := p.findMapping(addr)
	if m == nil || m.contents == nil {
		return nil, 0
	}
	off := addr.Sub(m.min)
	return m.contents[off:], m.max.Sub(addr)
}

// Readable reports whether the address a is readable.
func (p *Process) Readable(a Offset) bool {
	return p.findMapping(a) != nil
}

// ReadableN reports whether the n bytes starting at address a are readable.
func (p *Process) ReadableN(a Offset, n int64) bool {
	for n > 0 {
		m := p.findMapping(a)
		if m == nil || m.perm&Read == 0 {
			return false
		}
		c := m.max.Sub(a)
		if n <= c {
			return true
		}
		n -= c
		a = a.Add(c)
	}
	return true
}

// ReadAt reads len(b) bytes starting at address a into b. It panics if any
// part of the requested range is unmapped, matching the "Read* operations
// panic on an unreadable address" contract used throughout this layer.
func (p *Process) ReadAt(b []byte, a Offset) {
	for len(b) > 0 {
		m := p.findMapping(a)
		if m == nil || m.contents == nil {
			panic(fmt.Sprintf("core: read of unmapped address %x", a))
		}
		off := a.Sub(m.min)
		n := copy(b, m.contents[off:])
		b = b[n:]
		a = a.Add(int64(n))
	}
}

func (p *Process) ReadUint8(a Offset) uint8 {
	var b [1]byte
	p.ReadAt(b[:], a)
	return b[0]
}

func (p *Process) ReadUint64(a Offset) uint64 {
	var b [8]byte
	p.ReadAt(b[:], a)
	return p.byteOrder.Uint64(b[:])
}

// ReadPtr reads a pointer-sized value at a, respecting PtrSize and
// ByteOrder.
func (p *Process) ReadPtr(a Offset) Offset {
	if p.ptrSize == 4 {
		var b [4]byte
		p.ReadAt(b[:], a)
		return Offset(p.byteOrder.Uint32(b[:]))
	}
	var b [8]byte
	p.ReadAt(b[:], a)
	return Offset(p.byteOrder.Uint64(b[:]))
}

// Threads returns information about each OS thread in the inferior.
func (p *Process) Threads() []*Thread { return p.threads }

func (p *Process) Arch() string { return p.arch }

// PtrSize returns the size in bytes of a pointer in the inferior: 4 or 8.
func (p *Process) PtrSize() int64 { return p.ptrSize }

func (p *Process) ByteOrder() binary.ByteOrder { return p.byteOrder }

func (p *Process) Warnings() []string { return p.warnings }

// LoadCore parses an ELF core file (as produced by the kernel on a crash or
// by gcore) into a Process. DWARF and symbol-table resolution are
// deliberately not attempted here: module and signature information is
// supplied independently by the caller (see internal/signature and
// internal/roots), since this spec treats module/symbol resolution as an
// external collaborator, not part of the virtual-address-map reader.
func LoadCore(coreFile string) (*Process, error) {
	f, err := os.Open(coreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open core file: %v", err)
	}
	defer f.Close()

	e, err := elf.NewFile(f)
	if err != nil {
		return nil, err
	}
	if e.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%s is not a core file", coreFile)
	}

	p := &Process{}
	switch e.Class {
	case elf.ELFCLASS32:
		p.ptrSize = 4
	case elf.ELFCLASS64:
		p.ptrSize = 8
	default:
		return nil, fmt.Errorf("unknown elf class %s", e.Class)
	}
	switch e.Machine {
	case elf.EM_386:
		p.arch = "386"
	case elf.EM_X86_64:
		p.arch = "amd64"
	case elf.EM_ARM:
		p.arch = "arm"
	case elf.EM_AARCH64:
		p.arch = "arm64"
	default:
		p.arch = e.Machine.String()
	}
	p.byteOrder = e.ByteOrder

	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := p.readLoad(f, prog); err != nil {
				return nil, err
			}
		}
	}
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := p.readNotes(f, e, prog.Off, prog.Filesz); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(p.memory, func(i, j int) bool { return p.memory[i].min < p.memory[j].min })

	for _, m := range p.memory {
		if err := p.addMapping(m); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Process) readLoad(f *os.File, prog *elf.Prog) error {
	min := Offset(prog.Vaddr)
	max := min.Add(int64(prog.Memsz))
	// Round out to page boundaries; the analyzer's invariants assume
	// every mapping starts and ends on a 4K boundary.
	alignedMin := min &^ (pageSize - 1)
	alignedMax := (max + pageSize - 1) &^ (pageSize - 1)

	var perm Perm
	if prog.Flags&elf.PF_R != 0 {
		perm |= Read
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= Write
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= Exec
	}
	if perm == 0 {
		return nil
	}

	m := &Mapping{min: alignedMin, max: alignedMax, perm: perm, source: "core", sourceOff: int64(prog.Off)}
	m.contents = make([]byte, alignedMax.Sub(alignedMin))
	if prog.Filesz > 0 {
		buf := make([]byte, max.Sub(min))
		if _, err := f.ReadAt(buf, int64(prog.Off)); err != nil {
			return fmt.Errorf("reading PT_LOAD segment: %v", err)
		}
		copy(m.contents[min.Sub(alignedMin):], buf)
	} else {
		// Anonymous, read-as-zero (e.g. MADV_DONTDUMP'd pages).
		p.warnings = append(p.warnings, fmt.Sprintf("no file data for [%x,%x), assuming zero", min, max))
	}
	p.memory = append(p.memory, m)
	return nil
}

func (p *Process) readNotes(f *os.File, e *elf.File, off, size uint64) error {
	b := make([]byte, size)
	if _, err := f.ReadAt(b, int64(off)); err != nil {
		return err
	}
	for len(b) >= 12 {
		namesz := e.ByteOrder.Uint32(b)
		b = b[4:]
		descsz := e.ByteOrder.Uint32(b)
		b = b[4:]
		typ := elf.NType(e.ByteOrder.Uint32(b))
		b = b[4:]
		if int(namesz) > len(b) {
			break
		}
		name := strings.TrimRight(string(b[:namesz]), "\x00")
		b = b[(namesz+3)/4*4:]
		if int(descsz) > len(b) {
			break
		}
		desc := b[:descsz]
		b = b[(descsz+3)/4*4:]

		if name != "CORE" {
			continue
		}
		if typ == elf.NT_PRSTATUS {
			if err := p.readPRStatus(e, desc); err != nil {
				return fmt.Errorf("reading NT_PRSTATUS: %v", err)
			}
		}
	}
	return nil
}

// readPRStatus parses a Linux elf_prstatus note into a Thread. Field
// offsets below are for the linux/amd64 struct layout; the note carries the
// general-purpose register set plus the thread (task) id.
func (p *Process) readPRStatus(e *elf.File, desc []byte) error {
	t := &Thread{}
	if p.arch != "amd64" || len(desc) < 112+216 {
		// Unsupported arch: still record the thread so it is visible
		// to the stack/register root enumerators, just with no
		// register contents.
		p.threads = append(p.threads, t)
		return nil
	}
	t.pid = uint64(p.byteOrder.Uint32(desc[32 : 32+4]))
	reg := desc[112 : 112+216]
	names := []string{
		"r15", "r14", "r13", "r12", "rbp", "rbx", "r11", "r10",
		"r9", "r8", "rax", "rcx", "rdx", "rsi", "rdi", "orig_rax",
		"rip", "cs", "eflags", "rsp", "ss", "fs_base", "gs_base",
		"ds", "es", "fs", "gs",
	}
	r := bytes.NewReader(reg)
	for _, name := range names {
		var v uint64
		if err := binary.Read(r, p.byteOrder, &v); err != nil {
			break
		}
		t.regs = append(t.regs, Register{Name: name, Value: v})
	}
	for _, reg := range t.regs {
		switch reg.Name {
		case "rip":
			t.pc = Offset(reg.Value)
		case "rsp":
			t.sp = Offset(reg.Value)
		}
	}
	p.threads = append(p.threads, t)
	return nil
}
