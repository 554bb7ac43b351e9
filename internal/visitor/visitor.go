// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package visitor implements the Visitors (C8): consumers of an
// iterator's allocation sequence that count, summarize, list, dump, or
// explain it. Tabular output uses text/tabwriter, matching the teacher
// command line's own overview/histogram/breakdown commands.
package visitor

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/signature"
)

// VirtualAddressMap is the subset of core.Process visitors need to fetch
// allocation bytes on demand.
type VirtualAddressMap interface {
	Find(addr core.Offset) ([]byte, int64)
}

// Visitor receives one callback per allocation an iterator produces,
// then Finish to flush any accumulated output.
type Visitor interface {
	Visit(i allocset.Index, a *allocset.Allocation)
	Finish()
}

// Context bundles what every visitor factory needs: where to write
// output, and how to read allocation bytes and signatures.
type Context struct {
	Out  io.Writer
	VAM  VirtualAddressMap
	Sigs *signature.Directory
	// PtrSize and BigEndian describe how to read a signature word.
	PtrSize   int64
	BigEndian bool
}

func readSignature(c Context, a *allocset.Allocation) (core.Offset, bool) {
	if a.Size < c.PtrSize {
		return 0, false
	}
	b, n := c.VAM.Find(a.Address)
	if n < c.PtrSize {
		return 0, false
	}
	var v uint64
	if c.PtrSize == 4 {
		if c.BigEndian {
			v = uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		} else {
			v = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
		}
	} else {
		if c.BigEndian {
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

func signatureName(c Context, a *allocset.Allocation) string {
	sig, ok := readSignature(c, a)
	if !ok || !c.Sigs.IsMapped(sig) {
		return ""
	}
	return c.Sigs.Name(sig)
}

// ---- Counter ----

type counter struct {
	c    Context
	n    int64
	size int64
}

func NewCounter(c Context) Visitor { return &counter{c: c} }

func (v *counter) Visit(i allocset.Index, a *allocset.Allocation) {
	v.n++
	v.size += a.Size
}

func (v *counter) Finish() {
	fmt.Fprintf(v.c.Out, "count %d\ntotal bytes %d\n", v.n, v.size)
}

// ---- Enumerator ----

type enumerator struct {
	c Context
}

func NewEnumerator(c Context) Visitor { return &enumerator{c: c} }

func (v *enumerator) Visit(i allocset.Index, a *allocset.Allocation) {
	fmt.Fprintf(v.c.Out, "%#x\n", uint64(a.Address))
}

func (v *enumerator) Finish() {}

// ---- Lister ----

type lister struct {
	c Context
	w *tabwriter.Writer
}

func NewLister(c Context) Visitor {
	return &lister{c: c, w: tabwriter.NewWriter(c.Out, 0, 0, 1, ' ', 0)}
}

func (v *lister) Visit(i allocset.Index, a *allocset.Allocation) {
	v.writeHeader(a)
}

func (v *lister) writeHeader(a *allocset.Allocation) {
	used := "used"
	if !a.Used {
		used = "free"
	}
	sig := signatureName(v.c, a)
	if sig == "" {
		sig = "-"
	}
	fmt.Fprintf(v.w, "%#x\t%d\t%s\t%s\n", uint64(a.Address), a.Size, used, sig)
}

func (v *lister) Finish() { v.w.Flush() }

// ---- Shower ----

type shower struct {
	lister
}

func NewShower(c Context) Visitor {
	return &shower{lister{c: c, w: tabwriter.NewWriter(c.Out, 0, 0, 1, ' ', 0)}}
}

func (v *shower) Visit(i allocset.Index, a *allocset.Allocation) {
	v.writeHeader(a)
	b, _ := v.c.VAM.Find(a.Address)
	if int64(len(b)) > a.Size {
		b = b[:a.Size]
	}
	writeHexDump(v.w, a.Address, b)
}

// writeHexDump renders b in 16-byte rows of hex plus an ASCII gutter, the
// conventional "show memory" format.
func writeHexDump(w io.Writer, base core.Offset, b []byte) {
	for off := 0; off < len(b); off += 16 {
		end := off + 16
		if end > len(b) {
			end = len(b)
		}
		row := b[off:end]
		fmt.Fprintf(w, "  %#x:", uint64(base.Add(int64(off))))
		for _, c := range row {
			fmt.Fprintf(w, " %02x", c)
		}
		for i := len(row); i < 16; i++ {
			fmt.Fprint(w, "   ")
		}
		fmt.Fprint(w, "  ")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				fmt.Fprintf(w, "%c", c)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w)
	}
}

// ---- Describer ----

// describer is Lister plus a hook for signature-aware structured
// description. Type-directed field decoding (interpreting an
// allocation's bytes according to its signature's known layout) needs an
// external, type-system-specific collaborator that's out of scope here;
// this prints what's available without it — address, size, used/free,
// signature name — which is the Lister header plus a repeat of the
// signature on its own line so a shell pipeline can grep for it.
type describer struct {
	lister
}

func NewDescriber(c Context) Visitor {
	return &describer{lister{c: c, w: tabwriter.NewWriter(c.Out, 0, 0, 1, ' ', 0)}}
}

func (v *describer) Visit(i allocset.Index, a *allocset.Allocation) {
	v.writeHeader(a)
	sig := signatureName(v.c, a)
	if sig != "" {
		fmt.Fprintf(v.w, "  type %s\n", sig)
	}
}
