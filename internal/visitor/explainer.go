// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitor

import (
	"fmt"
	"text/tabwriter"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
	"github.com/coredump-tools/heapwalk/internal/roots"
)

const (
	maxAnchorPointsPerKind   = 10
	maxIndirectPerKindAfter1 = 1
)

// explainer implements Describer plus an anchor-chain explanation,
// consuming the graph's AnchorChainVisitor protocol. It enforces the
// reporting caps itself — the graph only promises to enumerate anchor
// points in ascending address order, which is what makes these caps
// deterministic.
type explainer struct {
	describer
	g *graph.Graph

	// Reset per anchoree (per Visit call): each kind's own counters.
	target       core.Offset
	reported     map[string]int
	directSeen   map[string]bool
	indirectUsed map[string]int
}

// NewExplainer returns an Explainer visitor.
func NewExplainer(c Context, g *graph.Graph) Visitor {
	return &explainer{
		describer: describer{lister{c: c, w: tabwriter.NewWriter(c.Out, 0, 0, 1, ' ', 0)}},
		g:         g,
	}
}

func (v *explainer) Visit(i allocset.Index, a *allocset.Allocation) {
	v.describer.Visit(i, a)

	v.target = a.Address
	v.reported = map[string]int{"static": 0, "stack": 0, "register": 0}
	v.directSeen = map[string]bool{}
	v.indirectUsed = map[string]int{}

	v.g.VisitStaticAnchorChains(v.c.VAM, i, (*explainerKind)(&explainerKindView{v, "static"}))
	v.g.VisitStackAnchorChains(v.c.VAM, i, (*explainerKind)(&explainerKindView{v, "stack"}))
	v.g.VisitRegisterAnchorChains(v.c.VAM, i, (*explainerKind)(&explainerKindView{v, "register"}))
}

func (v *explainer) Finish() { v.describer.Finish() }

// explainerKindView binds a single anchor-chain kind's label to the
// shared explainer, so the three VisitXAnchorChains calls can reuse one
// cap-enforcement implementation without three near-identical types.
type explainerKindView struct {
	v    *explainer
	kind string
}

type explainerKind explainerKindView

func (k *explainerKind) header(addr core.Offset, size int64, body []byte) bool {
	v := k.v
	if v.reported[k.kind] >= maxAnchorPointsPerKind {
		return true
	}
	direct := addr == v.target
	// An indirect anchor point is only capped to one once a direct anchor
	// point of this kind has already been reported; an anchoree with no
	// direct anchor of this kind shows up to maxAnchorPointsPerKind of them.
	if !direct && v.directSeen[k.kind] && v.indirectUsed[k.kind] >= maxIndirectPerKindAfter1 {
		return true
	}
	v.reported[k.kind]++
	if !direct {
		v.indirectUsed[k.kind]++
	} else {
		v.directSeen[k.kind] = true
	}

	label := map[string]string{
		"static":   "directly statically anchored",
		"stack":    "directly stack anchored",
		"register": "directly register anchored",
	}[k.kind]
	if !direct {
		label = "indirectly " + k.kind + " anchored"
	}
	fmt.Fprintf(v.w, "  %s: %#x (%d bytes)\n", label, uint64(addr), size)
	return false
}

func (k *explainerKind) link(addr core.Offset, size int64, body []byte) {
	fmt.Fprintf(k.v.w, "    -> %#x (%d bytes)\n", uint64(addr), size)
}

func (k *explainerKind) VisitStaticAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	return k.header(addr, size, bytes)
}

func (k *explainerKind) VisitStackAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	return k.header(addr, size, bytes)
}

func (k *explainerKind) VisitRegisterAnchorChainHeader(roots []roots.Root, addr core.Offset, size int64, bytes []byte) bool {
	return k.header(addr, size, bytes)
}

func (k *explainerKind) VisitChainLink(addr core.Offset, size int64, bytes []byte) {
	k.link(addr, size, bytes)
}
