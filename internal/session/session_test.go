// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
	"github.com/coredump-tools/heapwalk/internal/signature"
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

func newTestSession(t *testing.T) *Session {
	t.Helper()
	vam := &fakeVAM{base: 0x1000, buf: make([]byte, 0x1040)}
	vam.putPtr(0x1010, 0x2000)

	finder := allocset.New([]allocset.Allocation{
		{Address: 0x1000, Size: 0x40, Used: true},
		{Address: 0x2000, Size: 0x20, Used: true},
	})
	g := graph.New(finder)
	if err := g.Build(context.Background(), graph.BuildInput{VAM: vam, PtrSize: 8}); err != nil {
		t.Fatal(err)
	}
	return NewSession(g, vam, signature.New(nil), 8, false)
}

// An address outside any allocation produces the exact diagnostic text
// and no visitor output.
func TestExecuteRejectsAddressOutsideAnyAllocation(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "outgoing", []string{"0xdead"})
	if out.String() != "" {
		t.Errorf("stdout = %q, want empty (no visitor callback should fire)", out.String())
	}
	want := "0xdead is not part of an allocation.\n"
	if errOut.String() != want {
		t.Errorf("stderr = %q, want %q", errOut.String(), want)
	}
}

func TestMissingAddressArgument(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "outgoing", nil)
	if !strings.Contains(errOut.String(), "No address was specified for a single allocation.") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestInvalidAddressToken(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "outgoing", []string{"not-hex"})
	want := "not-hex is not a valid address.\n"
	if errOut.String() != want {
		t.Errorf("stderr = %q, want %q", errOut.String(), want)
	}
}

func TestChainMissingLinkOffset(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "chain", []string{"0x1000"})
	if !strings.Contains(errOut.String(), "No offset was provided for the link field.") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestChainInvalidLinkOffsetToken(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "chain", []string{"0x1000", "zz"})
	want := "zz is not a offset for the link field.\n"
	if errOut.String() != want {
		t.Errorf("stderr = %q, want %q", errOut.String(), want)
	}
}

func TestCountAllocations(t *testing.T) {
	sess := newTestSession(t)
	var out, errOut bytes.Buffer
	sess.Execute(context.Background(), &out, &errOut, "count", "allocations", nil)
	if errOut.String() != "" {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
	want := "count 2\ntotal bytes 96\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestRegisterSubcommandRejectsUnknownCommand(t *testing.T) {
	sess := newTestSession(t)
	err := sess.RegisterSubcommand("bogus")
	if err == nil {
		t.Fatal("expected a ConfigurationError")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("got %T, want *ConfigurationError", err)
	}
}
