// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package merkle assembles and verifies the hash proofs attached to Data
// messages. A proof is a list of tree nodes — the uncle siblings on the
// path from a leaf upward, plus any roots the receiver cannot derive —
// that connect a chunk to an already-trusted hash or to a signed tree
// head.
package merkle

import "errors"

var (
	// ErrProofIncomplete means the proof ran out of nodes before reaching
	// a trusted hash or a verifiable signature.
	ErrProofIncomplete = errors.New("proof incomplete")
	// ErrProofMismatch means a computed hash disagrees with a supplied or
	// trusted one; the sender is misbehaving.
	ErrProofMismatch = errors.New("proof mismatch")
	// ErrMissingNode means the local tree lacks a node a proof needs.
	ErrMissingNode = errors.New("missing tree node")
)

// Node is one entry of the flat Merkle tree: its in-order index, its hash,
// and the byte length of the leaves it spans.
type Node struct {
	Index uint64
	Hash  []byte
	Size  uint64
}

// NodeStore looks up trusted tree nodes by flat index.
type NodeStore interface {
	Node(index uint64) (Node, bool)
}

// TreeStore extends NodeStore with the current full subtree roots, in
// ascending index order.
type TreeStore interface {
	NodeStore
	Roots() []Node
}

// AncestorSet is the 64-bit flag set carried in Request.Nodes. Bit zero
// asks the responder to attach a signature; bit i+1 declares that the
// requester already holds the i-th node of the proof walk (counting levels
// from the leaf's sibling upward) so it need not be resent.
type AncestorSet uint64

// WantsSignature reports whether the requester asked for a signed root.
func (a AncestorSet) WantsSignature() bool {
	return a&1 != 0
}

// SetSignature marks the signature-wanted flag.
func (a *AncestorSet) SetSignature() {
	*a |= 1
}

// HasAncestor reports whether the requester holds the proof node at walk
// position i. Positions 63 and above are never held.
func (a AncestorSet) HasAncestor(i int) bool {
	if i < 0 || i > 62 {
		return false
	}
	return a&(1<<(uint(i)+1)) != 0
}

// SetAncestor marks the proof node at walk position i as held.
func (a *AncestorSet) SetAncestor(i int) {
	if i < 0 || i > 62 {
		return
	}
	*a |= 1 << (uint(i) + 1)
}

// Uint64 returns the raw wire representation.
func (a AncestorSet) Uint64() uint64 {
	return uint64(a)
}
