// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flattree maps a binary tree onto a flat list of indexes using
// in-order numbering. Even indexes are leaves, odd indexes are parents.
// The SLEEP Merkle tree is addressed exclusively through this layout, so
// every function here is pure integer arithmetic.
package flattree

import "math/bits"

// Depth returns the depth of the tree node at index i. Leaves are depth 0.
func Depth(i uint64) uint64 {
	return uint64(bits.TrailingZeros64(^i))
}

// Offset returns the offset of index i within its depth row.
func Offset(i uint64) uint64 {
	d := Depth(i)
	return i >> (d + 1)
}

// Index returns the flat index of the node at the given depth and offset.
func Index(depth, offset uint64) uint64 {
	return (offset << (depth + 1)) | ((1 << depth) - 1)
}

// Parent returns the index of the parent of i.
func Parent(i uint64) uint64 {
	d := Depth(i)
	return Index(d+1, Offset(i)>>1)
}

// Sibling returns the index sharing a parent with i.
func Sibling(i uint64) uint64 {
	d := Depth(i)
	return Index(d, Offset(i)^1)
}

// LeftChild returns the left child of i. The second return is false when i
// is a leaf.
func LeftChild(i uint64) (uint64, bool) {
	d := Depth(i)
	if d == 0 {
		return 0, false
	}
	return Index(d-1, Offset(i)<<1), true
}

// RightChild returns the right child of i. The second return is false when
// i is a leaf.
func RightChild(i uint64) (uint64, bool) {
	d := Depth(i)
	if d == 0 {
		return 0, false
	}
	return Index(d-1, (Offset(i)<<1)+1), true
}

// Children returns both children of i, or false when i is a leaf.
func Children(i uint64) (left, right uint64, ok bool) {
	left, ok = LeftChild(i)
	if !ok {
		return 0, 0, false
	}
	right, _ = RightChild(i)
	return left, right, true
}

// LeftSpan returns the leftmost leaf index spanned by i.
func LeftSpan(i uint64) uint64 {
	d := Depth(i)
	return Offset(i) << (d + 1)
}

// RightSpan returns the rightmost leaf index spanned by i.
func RightSpan(i uint64) uint64 {
	d := Depth(i)
	return (Offset(i) << (d + 1)) + (1<<(d+1) - 2)
}

// Spans returns the leftmost and rightmost leaf indexes spanned by i.
func Spans(i uint64) (left, right uint64) {
	return LeftSpan(i), RightSpan(i)
}

// Count returns how many nodes, including i itself, sit in the subtree
// rooted at i.
func Count(i uint64) uint64 {
	d := Depth(i)
	return (2 << d) - 1
}

// FullRoots returns the indexes of the full subtree roots that together
// span the leaves left of index i. i must be an even (leaf) index.
func FullRoots(i uint64) []uint64 {
	if i&1 == 1 {
		return nil
	}
	var roots []uint64
	i /= 2
	var offset, factor uint64 = 0, 1
	for i != 0 {
		for factor*2 <= i {
			factor *= 2
		}
		roots = append(roots, offset+factor-1)
		offset += 2 * factor
		i -= factor
		factor = 1
	}
	return roots
}
