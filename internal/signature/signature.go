// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package signature implements the Signature Directory (C3): a
// bidirectional mapping between a candidate leading word read from an
// allocation (its "signature", typically a vtable or class-tag pointer) and
// a human-readable type name, where several signatures may share one name.
package signature

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coredump-tools/heapwalk/internal/core"
)

// Directory is an immutable signature <-> name table.
type Directory struct {
	name map[core.Offset]string
	sigs map[string][]core.Offset
}

// New builds a Directory from a map of signature to name. Multiple
// signatures may map to the same name (e.g. several vtables for the same
// class in different translation units).
func New(names map[core.Offset]string) *Directory {
	d := &Directory{
		name: make(map[core.Offset]string, len(names)),
		sigs: make(map[string][]core.Offset),
	}
	for sig, name := range names {
		d.name[sig] = name
		d.sigs[name] = append(d.sigs[name], sig)
	}
	return d
}

// IsMapped reports whether sig is a recognized signature.
func (d *Directory) IsMapped(sig core.Offset) bool {
	_, ok := d.name[sig]
	return ok
}

// Name returns the human-readable name for sig, or "" if sig is unmapped.
func (d *Directory) Name(sig core.Offset) string {
	return d.name[sig]
}

// Signatures returns every signature value mapped to name.
func (d *Directory) Signatures(name string) []core.Offset {
	return d.sigs[name]
}

// ReadTable parses a simple "<signature-hex> <name>" text table, one
// mapping per line, blank lines and "#" comments ignored. Multiple lines
// may repeat the same name for different signatures.
func ReadTable(r io.Reader) (*Directory, error) {
	names := map[core.Offset]string{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("signature table line %d: want \"<sig> <name>\"", lineNo)
		}
		sig, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("signature table line %d: bad signature %q: %v", lineNo, fields[0], err)
		}
		names[core.Offset(sig)] = strings.TrimSpace(fields[1])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(names), nil
}
