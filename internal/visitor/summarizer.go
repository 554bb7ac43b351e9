// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package visitor

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/coredump-tools/heapwalk/internal/allocset"
)

// subtotal is one signature's (or, in the unsigned bucket, one size's)
// contribution to a name bucket.
type subtotal struct {
	key   uint64
	count int
	bytes int64
}

// nameBucket accumulates every allocation sharing a signature name — or,
// for name == "", every allocation with no recognized signature: those
// collapse into a single "-" bucket whose subtotals are by size rather
// than by signature.
type nameBucket struct {
	name      string
	count     int
	bytes     int64
	subtotals map[uint64]*subtotal
}

func (b *nameBucket) add(key uint64, size int64) {
	b.count++
	b.bytes += size
	s := b.subtotals[key]
	if s == nil {
		s = &subtotal{key: key}
		b.subtotals[key] = s
	}
	s.count++
	s.bytes += size
}

func (b *nameBucket) firstKey() uint64 {
	first := ^uint64(0)
	for k := range b.subtotals {
		if k < first {
			first = k
		}
	}
	return first
}

func (b *nameBucket) displayName() string {
	if b.name == "" {
		return "-"
	}
	return b.name
}

func (b *nameBucket) sortedSubtotals() []*subtotal {
	out := make([]*subtotal, 0, len(b.subtotals))
	for _, s := range b.subtotals {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// summarizer implements the Summarizer visitor: per-signature-name
// counts and byte totals, with a per-signature breakdown for each name
// (per-size for the unsigned "-" bucket).
type summarizer struct {
	c       Context
	byBytes bool
	buckets map[string]*nameBucket
}

// NewSummarizer returns a Summarizer. When byBytes is false, Finish
// sorts buckets by count descending, name ascending, first-signature
// ascending; when true, by bytes descending with the same tie-break
// chain.
func NewSummarizer(c Context, byBytes bool) Visitor {
	return &summarizer{c: c, byBytes: byBytes, buckets: map[string]*nameBucket{}}
}

func (v *summarizer) Visit(i allocset.Index, a *allocset.Allocation) {
	sig, ok := readSignature(v.c, a)
	name := ""
	key := uint64(a.Size)
	if ok && v.c.Sigs.IsMapped(sig) {
		name = v.c.Sigs.Name(sig)
		key = uint64(sig)
	}
	b := v.buckets[name]
	if b == nil {
		b = &nameBucket{name: name, subtotals: map[uint64]*subtotal{}}
		v.buckets[name] = b
	}
	b.add(key, a.Size)
}

func (v *summarizer) Finish() {
	buckets := make([]*nameBucket, 0, len(v.buckets))
	for _, b := range v.buckets {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if v.byBytes {
			if a.bytes != b.bytes {
				return a.bytes > b.bytes
			}
		} else {
			if a.count != b.count {
				return a.count > b.count
			}
		}
		if a.displayName() != b.displayName() {
			return a.displayName() < b.displayName()
		}
		return a.firstKey() < b.firstKey()
	})

	w := tabwriter.NewWriter(v.c.Out, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, b := range buckets {
		fmt.Fprintf(w, "%s\t%d\t%d\n", b.displayName(), b.count, b.bytes)
		for _, s := range b.sortedSubtotals() {
			fmt.Fprintf(w, "  %#x\t%d\t%d\n", s.key, s.count, s.bytes)
		}
	}
	w.Flush()
}
