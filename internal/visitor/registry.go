// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitor

import "github.com/coredump-tools/heapwalk/internal/graph"

// Factory builds one named visitor given the run's shared Context. The
// graph is only needed by explain, which walks anchor chains; the other
// six ignore it.
type Factory func(c Context, g *graph.Graph) Visitor

// Registry is the command-name-keyed lookup the Subcommand Surface (C9)
// composes with the iterator registry.
type Registry map[string]Factory

// DefaultRegistry returns the seven visitors: count, summarize,
// enumerate, list, show, describe, and explain.
func DefaultRegistry() Registry {
	return Registry{
		"count":     func(c Context, g *graph.Graph) Visitor { return NewCounter(c) },
		"summarize": func(c Context, g *graph.Graph) Visitor { return NewSummarizer(c, false) },
		"enumerate": func(c Context, g *graph.Graph) Visitor { return NewEnumerator(c) },
		"list":      func(c Context, g *graph.Graph) Visitor { return NewLister(c) },
		"show":      func(c Context, g *graph.Graph) Visitor { return NewShower(c) },
		"describe":  func(c Context, g *graph.Graph) Visitor { return NewDescriber(c) },
		"explain":   func(c Context, g *graph.Graph) Visitor { return NewExplainer(c, g) },
	}
}
