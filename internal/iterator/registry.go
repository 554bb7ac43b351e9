// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iterator

import (
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
)

// Factory builds one named iterator. NumArgs is how many positional hex
// tokens the command surface (C9) must parse and pass in args before
// calling New; Help is a one-line usage string for the shell's help
// command.
type Factory struct {
	SetName string
	NumArgs int
	Help    string
	New     func(g *graph.Graph, vam VirtualAddressMap, args []core.Offset, ptrSize int64, bigEndian bool) (Iterator, error)
}

func zeroArg(name, help string, fn func(*graph.Graph) Iterator) Factory {
	return Factory{
		SetName: name,
		NumArgs: 0,
		Help:    help,
		New: func(g *graph.Graph, _ VirtualAddressMap, _ []core.Offset, _ int64, _ bool) (Iterator, error) {
			return fn(g), nil
		},
	}
}

func oneAddrArg(name, help string, fn func(*graph.Graph, core.Offset) Iterator) Factory {
	return Factory{
		SetName: name,
		NumArgs: 1,
		Help:    help,
		New: func(g *graph.Graph, _ VirtualAddressMap, args []core.Offset, _ int64, _ bool) (Iterator, error) {
			return fn(g, args[0]), nil
		},
	}
}

// Registry is the set-name-keyed lookup the Subcommand Surface (C9)
// composes with the visitor registry at dispatch time.
type Registry map[string]Factory

// DefaultRegistry returns every named iterator set.
func DefaultRegistry() Registry {
	r := Registry{}
	add := func(f Factory) { r[f.SetName] = f }

	add(zeroArg("allocations", "every allocation, in address order", Allocations))
	add(zeroArg("anchored", "allocations reachable from any root", Anchored))
	add(zeroArg("staticanchored", "allocations reachable from a static root", StaticAnchored))
	add(zeroArg("stackanchored", "allocations reachable from a stack root", StackAnchored))
	add(zeroArg("registeranchored", "allocations reachable from a register root", RegisterAnchored))
	add(zeroArg("threadcached", "allocations recognized as thread-local cache blocks", ThreadCached))
	add(zeroArg("leaked", "allocations with no root of any kind", Leaked))
	add(zeroArg("unreferenced", "allocations with no incoming allocation edge", Unreferenced))

	add(oneAddrArg("outgoing", "allocations directly pointed to from <address>", Outgoing))
	add(oneAddrArg("incoming", "allocations that directly point to <address>", Incoming))
	add(oneAddrArg("reach", "transitive closure of outgoing from <address>", Reach))
	add(oneAddrArg("retained", "transitive closure of incoming from <address>", Retained))

	add(Factory{
		SetName: "chain",
		NumArgs: 2,
		Help:    "follow the pointer at <link-offset> repeatedly, starting at <address>",
		New: func(g *graph.Graph, vam VirtualAddressMap, args []core.Offset, ptrSize int64, bigEndian bool) (Iterator, error) {
			return Chain(g, vam, args[0], int64(args[1]), ptrSize, bigEndian), nil
		},
	})

	return r
}
