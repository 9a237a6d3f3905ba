// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield_test

import (
	"math"
	"testing"

	"github.com/sleepnet/hypersync/pkg/bitfield"
)

func TestIndexSetBasics(t *testing.T) {
	t.Parallel()

	var s bitfield.IndexSet
	if s.Get(0) || s.Max() != 0 {
		t.Fatal("zero value must be empty")
	}

	s.Set(5, true)
	s.SetRange(10, 4, true)
	for i, want := range map[uint64]bool{4: false, 5: true, 6: false, 9: false, 10: true, 13: true, 14: false} {
		if got := s.Get(i); got != want {
			t.Errorf("Get(%d) = %v, want %v", i, got, want)
		}
	}
	if s.Max() != 14 {
		t.Errorf("Max() = %d, want 14", s.Max())
	}

	s.Set(5, false)
	if s.Get(5) {
		t.Error("cleared index still set")
	}
	s.SetRange(0, 0, true)
	if s.Get(0) {
		t.Error("zero-length range changed the set")
	}
}

func TestIndexSetMergesAdjacentAndOverlapping(t *testing.T) {
	t.Parallel()

	var s bitfield.IndexSet
	s.SetRange(0, 4, true)
	s.SetRange(4, 4, true)  // adjacent
	s.SetRange(6, 10, true) // overlapping
	for i := uint64(0); i < 16; i++ {
		if !s.Get(i) {
			t.Fatalf("index %d missing after merge", i)
		}
	}
	if s.Get(16) {
		t.Fatal("merge grew past the inserted ranges")
	}
}

func TestIndexSetRemoveSplitsRuns(t *testing.T) {
	t.Parallel()

	var s bitfield.IndexSet
	s.SetRange(0, 100, true)
	s.SetRange(40, 20, false)
	for i, want := range map[uint64]bool{0: true, 39: true, 40: false, 59: false, 60: true, 99: true, 100: false} {
		if got := s.Get(i); got != want {
			t.Errorf("Get(%d) = %v, want %v", i, got, want)
		}
	}

	// Removal spanning several runs.
	s.SetRange(0, 100, false)
	for _, i := range []uint64{0, 39, 60, 99} {
		if s.Get(i) {
			t.Errorf("index %d survived full removal", i)
		}
	}
	if s.Max() != 0 {
		t.Errorf("Max() = %d after clearing, want 0", s.Max())
	}
}

func TestIndexSetHugeIndexes(t *testing.T) {
	t.Parallel()

	// Indexes near the top of the range must cost runs, not bytes.
	var s bitfield.IndexSet
	s.SetRange(1<<62, 1<<60, true)
	if !s.Get(1<<62) || !s.Get(1<<62+1<<60-1) {
		t.Fatal("huge range not recorded")
	}
	if s.Get(1<<62 - 1) {
		t.Fatal("range leaked downward")
	}
	s.Set(1<<62, false)
	if s.Get(1 << 62) {
		t.Fatal("huge index not cleared")
	}

	// Overflowing ranges saturate instead of wrapping.
	s.SetRange(math.MaxUint64-1, 10, true)
	if !s.Get(math.MaxUint64-1) || s.Get(math.MaxUint64-2) {
		t.Fatal("saturating range recorded wrong members")
	}
	if s.Max() != math.MaxUint64 {
		t.Fatalf("Max() = %d, want saturation", s.Max())
	}
}
