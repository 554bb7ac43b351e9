// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package roots

import (
	"encoding/binary"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/core"
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

func TestEnumerateStatic(t *testing.T) {
	vam := &fakeVAM{base: 0x7000, buf: make([]byte, 0x10)}
	vam.putPtr(0x7000, 0x1000)

	words := EnumerateStatic(vam, []StaticRegion{{ModuleName: "data", Min: 0x7000, Max: 0x7010}}, 8, false)
	if len(words) != 2 {
		t.Fatalf("EnumerateStatic = %+v, want 2 words", words)
	}
	if words[0].Value != 0x1000 || words[0].Root.Kind != Static {
		t.Errorf("got %+v, want value 0x1000 static root", words[0])
	}
}

func TestEnumerateStack(t *testing.T) {
	vam := &fakeVAM{base: 0x8000, buf: make([]byte, 0x20)}
	vam.putPtr(0x8010, 0x2000)

	threads := []ThreadInfo{{ID: 7, StackLo: 0x8000, StackHi: 0x8020}}
	words := EnumerateStack(vam, threads, 8, false)
	var found bool
	for _, w := range words {
		if w.Value == 0x2000 {
			found = true
			if w.Root.ThreadID != 7 {
				t.Errorf("ThreadID = %d, want 7", w.Root.ThreadID)
			}
		}
	}
	if !found {
		t.Error("did not find the planted stack pointer")
	}
}

func TestEnumerateRegister(t *testing.T) {
	threads := []ThreadInfo{{ID: 3, Regs: []core.Register{{Name: "rax", Value: 0x3000}}}}
	words := EnumerateRegister(threads)
	if len(words) != 1 || words[0].Value != 0x3000 || words[0].Root.RegisterName != "rax" {
		t.Fatalf("EnumerateRegister = %+v", words)
	}
}
