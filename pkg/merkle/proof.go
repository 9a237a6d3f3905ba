// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package merkle

import (
	"fmt"

	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/flattree"
)

// Builder assembles proofs from the local tree for outgoing Data
// messages.
type Builder struct {
	store  TreeStore
	signer crypto.Signer
}

// NewBuilder returns a Builder over the local tree. signer may be nil
// when this side cannot produce signatures; signature requests then fall
// back to unsigned proofs.
func NewBuilder(store TreeStore, signer crypto.Signer) *Builder {
	return &Builder{store: store, signer: signer}
}

// Proof collects the nodes a requester needs to verify the chunk at
// index: the uncle sibling of every level up to this side's root, minus
// the walk positions ancestors marks as already held, those the requester
// verifies against its own trusted copies. The proof then includes the
// remaining tree-head roots and — when requested and a signer is
// available — a signature over the head.
func (b *Builder) Proof(index uint64, ancestors AncestorSet) (nodes []Node, signature []byte, err error) {
	roots := b.store.Roots()
	rootIndex, ok := spanningRoot(roots, 2*index)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no root spans leaf %d", ErrMissingNode, 2*index)
	}

	current := 2 * index
	for pos := 0; current != rootIndex; pos++ {
		sibIndex := flattree.Sibling(current)
		current = flattree.Parent(current)
		if ancestors.HasAncestor(pos) {
			continue
		}
		sibling, ok := b.store.Node(sibIndex)
		if !ok {
			return nil, nil, fmt.Errorf("%w: node %d", ErrMissingNode, sibIndex)
		}
		nodes = append(nodes, sibling)
	}

	// Reached our root: attach the other tree-head roots so the verifier
	// can reconstruct the signed digest.
	treeRoots := make([]crypto.TreeRoot, len(roots))
	for i, r := range roots {
		if r.Index != rootIndex {
			nodes = append(nodes, r)
		}
		treeRoots[i] = crypto.TreeRoot{Index: r.Index, Size: r.Size, Hash: r.Hash}
	}

	if ancestors.WantsSignature() && b.signer != nil {
		signature, err = b.signer.Sign(crypto.TreeHash(treeRoots))
		if err != nil {
			return nil, nil, fmt.Errorf("sign tree head: %w", err)
		}
	}
	return nodes, signature, nil
}

// spanningRoot returns the root index whose span contains the leaf.
func spanningRoot(roots []Node, leaf uint64) (uint64, bool) {
	for _, r := range roots {
		left, right := flattree.Spans(r.Index)
		if left <= leaf && leaf <= right {
			return r.Index, true
		}
	}
	return 0, false
}
