// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "testing"

func TestOffsetArithmetic(t *testing.T) {
	a := Offset(0x1000)
	if got := a.Add(0x40); got != 0x1040 {
		t.Errorf("Add: got %#x, want 0x1040", got)
	}
	if got := a.Add(0x40).Sub(a); got != 0x40 {
		t.Errorf("Sub: got %#x, want 0x40", got)
	}
	if got := a.Min(a.Add(0x40)); got != a {
		t.Errorf("Min: got %#x, want %#x", got, a)
	}
	if got := a.Max(a.Add(0x40)); got != a.Add(0x40) {
		t.Errorf("Max: got %#x, want %#x", got, a.Add(0x40))
	}
}
