// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session implements the Subcommand Surface (C9): it wires the
// iterator registry (C7) and visitor registry (C8) together at command
// dispatch time, rather than generating a distinct type per
// (iterator, visitor) pair — factories are registered by name in two
// flat tables and composed when a command actually runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
	"github.com/coredump-tools/heapwalk/internal/iterator"
	"github.com/coredump-tools/heapwalk/internal/signature"
	"github.com/coredump-tools/heapwalk/internal/visitor"
)

// ConfigurationError reports an attempt to register a subcommand whose
// parent command isn't a known, set-based visitor command. It's
// reported once at startup; the command is simply absent afterward, not
// a process abort.
type ConfigurationError struct {
	Command string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%q is not a registered set-based command", e.Command)
}

// ArgumentError is a caller-supplied positional argument that failed to
// parse or resolve. Its message text for the known failure modes
// matches the original tool's diagnostics verbatim, typo included.
type ArgumentError struct {
	msg string
}

func (e *ArgumentError) Error() string { return e.msg }

func argErr(format string, args ...interface{}) error {
	return &ArgumentError{msg: fmt.Sprintf(format, args...)}
}

// A Subcommand names one registered (command, set) pair, e.g.
// {"count", "leaked"} for `count leaked`.
type Subcommand struct {
	Command string
	SetName string
}

// Session owns the built graph and the two factory registries, and
// dispatches `<command> <set-name> [args...]` invocations against them.
type Session struct {
	Graph     *graph.Graph
	Finder    *allocset.Finder
	VAM       iterator.VirtualAddressMap
	Sigs      *signature.Directory
	Iterators iterator.Registry
	Visitors  visitor.Registry
	PtrSize   int64
	BigEndian bool

	registered map[string]bool
}

// NewSession builds a Session from an already-built graph, using the
// default iterator and visitor registries.
func NewSession(g *graph.Graph, vam iterator.VirtualAddressMap, sigs *signature.Directory, ptrSize int64, bigEndian bool) *Session {
	return &Session{
		Graph:      g,
		Finder:     g.Finder(),
		VAM:        vam,
		Sigs:       sigs,
		Iterators:  iterator.DefaultRegistry(),
		Visitors:   visitor.DefaultRegistry(),
		PtrSize:    ptrSize,
		BigEndian:  bigEndian,
		registered: map[string]bool{},
	}
}

// RegisterSubcommand validates and records that command is available as
// a set-based parent command. It rejects unknown or non-set-based
// commands with a ConfigurationError.
func (s *Session) RegisterSubcommand(command string) error {
	if _, ok := s.Visitors[command]; !ok {
		return &ConfigurationError{Command: command}
	}
	if s.registered == nil {
		s.registered = map[string]bool{}
	}
	s.registered[command] = true
	return nil
}

// Execute runs one `<command> <set-name> [positional args]` invocation.
// Errors are written to errOut; a command error never propagates as a Go
// error past this boundary. The process exit code stays zero for any
// recognized command failure (unknown set, bad argument, and so on) and
// is reserved for unrecoverable I/O failure on the core dump itself.
func (s *Session) Execute(ctx context.Context, out, errOut io.Writer, command, setName string, positional []string) {
	vf, ok := s.Visitors[command]
	if !ok {
		fmt.Fprintf(errOut, "%q is not a known command.\n", command)
		return
	}
	itf, ok := s.Iterators[setName]
	if !ok {
		fmt.Fprintf(errOut, "%q is not a known set.\n", setName)
		return
	}

	args, err := parseArgs(itf.NumArgs, positional)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return
	}
	if itf.NumArgs >= 1 {
		if i := s.Finder.AllocationIndexOf(args[0]); i == s.Finder.NumAllocations() {
			fmt.Fprintf(errOut, "%s is not part of an allocation.\n", positional[0])
			return
		}
	}

	it, err := itf.New(s.Graph, s.VAM, args, s.PtrSize, s.BigEndian)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return
	}

	v := vf(visitor.Context{Out: out, VAM: s.VAM, Sigs: s.Sigs, PtrSize: s.PtrSize, BigEndian: s.BigEndian}, s.Graph)
	n := s.Finder.NumAllocations()
	for {
		if ctx.Err() != nil {
			break
		}
		i := it.Next()
		if i == n {
			break
		}
		v.Visit(i, s.Finder.AllocationAt(i))
	}
	v.Finish()
}

// parseArgs turns positional hex tokens into Offsets. The link-offset
// message's typo, "is not a offset", is preserved on purpose to match
// existing output parsers.
func parseArgs(numArgs int, positional []string) ([]core.Offset, error) {
	if numArgs == 0 {
		return nil, nil
	}
	if len(positional) < 1 {
		return nil, errors.New("No address was specified for a single allocation.")
	}
	addr, err := parseHex(positional[0])
	if err != nil {
		return nil, argErr("%s is not a valid address.", positional[0])
	}
	if numArgs == 1 {
		return []core.Offset{addr}, nil
	}
	if len(positional) < 2 {
		return nil, errors.New("No offset was provided for the link field.")
	}
	off, err := parseHex(positional[1])
	if err != nil {
		return nil, argErr("%s is not a offset for the link field.", positional[1])
	}
	return []core.Offset{addr, off}, nil
}

func parseHex(tok string) (core.Offset, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, err
	}
	return core.Offset(v), nil
}
