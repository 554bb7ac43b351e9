// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command heapwalk is a post-mortem heap analyzer for process core
// dumps: it loads a core file plus an allocation snapshot, builds the
// allocation graph, and lets a user query it either as a one-shot
// command or from an interactive shell.
//
// Run "heapwalk help" for a list of commands.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/coredump-tools/heapwalk/internal/allocset"
	"github.com/coredump-tools/heapwalk/internal/core"
	"github.com/coredump-tools/heapwalk/internal/graph"
	"github.com/coredump-tools/heapwalk/internal/roots"
	"github.com/coredump-tools/heapwalk/internal/session"
	"github.com/coredump-tools/heapwalk/internal/signature"
)

var flags struct {
	core       string
	snapshot   string
	signatures string
	workers    int
}

func main() {
	root := &cobra.Command{
		Use:           "heapwalk",
		Short:         "post-mortem heap analyzer for process core dumps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.core, "core", "", "core dump file (required)")
	root.PersistentFlags().StringVar(&flags.snapshot, "snapshot", "", "allocation snapshot file (required)")
	root.PersistentFlags().StringVar(&flags.signatures, "signatures", "", "signature table file (optional)")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "reference-scan worker count (0 = GOMAXPROCS)")

	root.AddCommand(analyzeCmd())
	root.AddCommand(shellCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <command> <set-name> [args...]",
		Short: "run a single command against the allocation graph",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open()
			if err != nil {
				return err
			}
			sess.Execute(context.Background(), os.Stdout, os.Stderr, args[0], args[1], args[2:])
			return nil
		},
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "start an interactive command shell over the allocation graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open()
			if err != nil {
				return err
			}
			return runShell(sess)
		},
	}
}

// open loads the core file and allocation snapshot, builds the graph,
// and wires a Session, recovering any InvariantViolation as a top-level
// diagnostic rather than a crash: a broken graph invariant terminates
// the process with a message, not a panic trace.
func open() (sess *session.Session, err error) {
	if flags.core == "" || flags.snapshot == "" {
		return nil, fmt.Errorf("--core and --snapshot are required")
	}

	proc, err := core.LoadCore(flags.core)
	if err != nil {
		return nil, fmt.Errorf("loading core file: %v", err)
	}
	for _, w := range proc.Warnings() {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	snapf, err := os.Open(flags.snapshot)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %v", err)
	}
	defer snapf.Close()
	finder, err := allocset.ReadSnapshot(snapf)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot: %v", err)
	}

	sigs := signature.New(nil)
	if flags.signatures != "" {
		sigf, err := os.Open(flags.signatures)
		if err != nil {
			return nil, fmt.Errorf("opening signature table: %v", err)
		}
		defer sigf.Close()
		sigs, err = signature.ReadTable(sigf)
		if err != nil {
			return nil, fmt.Errorf("parsing signature table: %v", err)
		}
	}

	staticRegions, threads := discoverRoots(proc)

	g := graph.New(finder)
	func() {
		defer func() {
			if r := recover(); r != nil {
				if iv, ok := r.(*graph.InvariantViolation); ok {
					fmt.Fprintln(os.Stderr, "fatal:", iv.Error())
					os.Exit(1)
				}
				panic(r)
			}
		}()
		err = g.Build(context.Background(), graph.BuildInput{
			VAM:           proc,
			StaticRegions: staticRegions,
			Threads:       threads,
			PtrSize:       proc.PtrSize(),
			BigEndian:     proc.ByteOrder() == binary.BigEndian,
			Workers:       flags.workers,
		})
	}()
	if err != nil {
		return nil, fmt.Errorf("building graph: %v", err)
	}

	sess = session.NewSession(g, proc, sigs, proc.PtrSize(), proc.ByteOrder() == binary.BigEndian)
	for cmd := range sess.Visitors {
		if err := sess.RegisterSubcommand(cmd); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return sess, nil
}

// discoverRoots derives static regions and thread stack bounds from the
// process's own memory map, since no external ModuleDirectory/ThreadMap
// is wired in: every writable mapping not claimed as a thread's stack is
// treated as a static region (the generalization of .data/.bss), and
// each thread's stack bounds are the mapping containing its stack
// pointer.
func discoverRoots(proc *core.Process) ([]roots.StaticRegion, []roots.ThreadInfo) {
	stackMapping := map[*core.Mapping]bool{}
	var threads []roots.ThreadInfo
	for _, t := range proc.Threads() {
		m := mappingContaining(proc, t.SP())
		if m == nil {
			threads = append(threads, roots.ThreadInfo{ID: t.Pid(), Regs: t.Regs()})
			continue
		}
		stackMapping[m] = true
		threads = append(threads, roots.ThreadInfo{
			ID:      t.Pid(),
			StackLo: m.Min(),
			StackHi: m.Max(),
			Regs:    t.Regs(),
		})
	}

	var statics []roots.StaticRegion
	for _, m := range proc.Mappings() {
		if m.Perm()&core.Write == 0 || stackMapping[m] {
			continue
		}
		statics = append(statics, roots.StaticRegion{
			ModuleName: fmt.Sprintf("mapping@%#x", uint64(m.Min())),
			Min:        m.Min(),
			Max:        m.Max(),
		})
	}
	return statics, threads
}

func mappingContaining(proc *core.Process, a core.Offset) *core.Mapping {
	for _, m := range proc.Mappings() {
		if a >= m.Min() && a < m.Max() {
			return m
		}
	}
	return nil
}

func runShell(sess *session.Session) error {
	rl, err := readline.New("heapwalk> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	names := make([]string, 0, len(sess.Visitors))
	for n := range sess.Visitors {
		names = append(names, n)
	}
	sort.Strings(names)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if line == "help" {
			fmt.Println("commands:", strings.Join(names, ", "))
			continue
		}

		tokens, err := shellquote.Split(line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "parse error:", err)
			continue
		}
		if len(tokens) < 2 {
			fmt.Fprintln(os.Stderr, "usage: <command> <set-name> [args...]")
			continue
		}
		sess.Execute(context.Background(), os.Stdout, os.Stderr, tokens[0], tokens[1], tokens[2:])
	}
	return nil
}
