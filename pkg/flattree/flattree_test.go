// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flattree_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sleepnet/hypersync/pkg/flattree"
)

func TestIndexDepthOffset(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		depth, offset, index uint64
	}{
		{0, 0, 0},
		{0, 1, 2},
		{0, 2, 4},
		{1, 0, 1},
		{1, 1, 5},
		{2, 0, 3},
		{2, 1, 11},
		{3, 0, 7},
	} {
		if got := flattree.Index(tc.depth, tc.offset); got != tc.index {
			t.Errorf("Index(%d, %d) = %d, want %d", tc.depth, tc.offset, got, tc.index)
		}
		if got := flattree.Depth(tc.index); got != tc.depth {
			t.Errorf("Depth(%d) = %d, want %d", tc.index, got, tc.depth)
		}
		if got := flattree.Offset(tc.index); got != tc.offset {
			t.Errorf("Offset(%d) = %d, want %d", tc.index, got, tc.offset)
		}
	}
}

func TestParentSibling(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		index, parent, sibling uint64
	}{
		{0, 1, 2},
		{2, 1, 0},
		{4, 5, 6},
		{1, 3, 5},
		{5, 3, 1},
		{3, 7, 11},
	} {
		if got := flattree.Parent(tc.index); got != tc.parent {
			t.Errorf("Parent(%d) = %d, want %d", tc.index, got, tc.parent)
		}
		if got := flattree.Sibling(tc.index); got != tc.sibling {
			t.Errorf("Sibling(%d) = %d, want %d", tc.index, got, tc.sibling)
		}
	}
}

func TestChildren(t *testing.T) {
	t.Parallel()

	if _, _, ok := flattree.Children(0); ok {
		t.Error("leaf 0 must not have children")
	}
	left, right, ok := flattree.Children(3)
	if !ok || left != 1 || right != 5 {
		t.Errorf("Children(3) = (%d, %d, %v), want (1, 5, true)", left, right, ok)
	}
	left, right, _ = flattree.Children(1)
	if left != 0 || right != 2 {
		t.Errorf("Children(1) = (%d, %d), want (0, 2)", left, right)
	}
}

func TestSpans(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		index, left, right uint64
	}{
		{0, 0, 0},
		{1, 0, 2},
		{3, 0, 6},
		{7, 0, 14},
		{5, 4, 6},
		{11, 8, 14},
	} {
		left, right := flattree.Spans(tc.index)
		if left != tc.left || right != tc.right {
			t.Errorf("Spans(%d) = (%d, %d), want (%d, %d)", tc.index, left, right, tc.left, tc.right)
		}
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ index, count uint64 }{
		{0, 1}, {1, 3}, {3, 7}, {5, 3}, {7, 15},
	} {
		if got := flattree.Count(tc.index); got != tc.count {
			t.Errorf("Count(%d) = %d, want %d", tc.index, got, tc.count)
		}
	}
}

func TestFullRoots(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		index uint64
		roots []uint64
	}{
		{0, nil},
		{2, []uint64{0}},
		{4, []uint64{1}},
		{6, []uint64{1, 4}},
		{8, []uint64{3}},
		{10, []uint64{3, 8}},
		{12, []uint64{3, 9}},
		{16, []uint64{7}},
	} {
		if diff := cmp.Diff(tc.roots, flattree.FullRoots(tc.index)); diff != "" {
			t.Errorf("FullRoots(%d) mismatch (-want +got):\n%s", tc.index, diff)
		}
	}
}

func TestParentOfSiblingSharesParent(t *testing.T) {
	t.Parallel()

	for i := uint64(0); i < 1000; i++ {
		if flattree.Parent(i) != flattree.Parent(flattree.Sibling(i)) {
			t.Fatalf("index %d and its sibling disagree on parent", i)
		}
	}
}
