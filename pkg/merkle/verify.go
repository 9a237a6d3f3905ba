// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/flattree"
)

// Verifier checks Data proofs against the trusted nodes of one log.
type Verifier struct {
	store     NodeStore
	verify    crypto.VerifyFunc
	publicKey []byte
}

// NewVerifier returns a Verifier over the given trusted-node store. verify
// and publicKey may be nil for logs where only hash-chained proofs are
// accepted.
func NewVerifier(store NodeStore, verify crypto.VerifyFunc, publicKey []byte) *Verifier {
	return &Verifier{store: store, verify: verify, publicKey: publicKey}
}

// Verify hashes value as the leaf at the given chunk index and walks
// upward, consuming nodes in order, until a computed hash matches a
// trusted one or a supplied signature verifies a new tree head. On success
// it returns every node that became trusted, leaf first. The supplied
// nodes may include checkpoints for indexes on the computed path; those
// must agree with the computation or the proof is rejected.
func (v *Verifier) Verify(index uint64, value []byte, nodes []Node, signature []byte) ([]Node, error) {
	leaf := Node{
		Index: 2 * index,
		Hash:  crypto.LeafHash(value),
		Size:  uint64(len(value)),
	}
	return v.walk(leaf, nodes, signature)
}

// VerifyNodes checks a hash-only proof, one that carries no chunk value.
// The first node is the claim being verified; the rest must connect it to
// a trusted hash or a signed tree head, exactly as in Verify.
func (v *Verifier) VerifyNodes(nodes []Node, signature []byte) ([]Node, error) {
	if len(nodes) == 0 {
		return nil, ErrProofIncomplete
	}
	return v.walk(nodes[0], nodes[1:], signature)
}

func (v *Verifier) walk(current Node, remaining []Node, signature []byte) ([]Node, error) {
	newly := []Node{current}

	for {
		// A supplied node for an index we computed is a checkpoint.
		if len(remaining) > 0 && remaining[0].Index == current.Index {
			if !bytes.Equal(remaining[0].Hash, current.Hash) {
				return nil, fmt.Errorf("%w: node %d", ErrProofMismatch, current.Index)
			}
			remaining = remaining[1:]
		}

		if trusted, ok := v.store.Node(current.Index); ok {
			if !bytes.Equal(trusted.Hash, current.Hash) {
				return nil, fmt.Errorf("%w: trusted node %d", ErrProofMismatch, current.Index)
			}
			return newly, nil
		}

		sibIndex := flattree.Sibling(current.Index)
		var sibling Node
		switch {
		case len(remaining) > 0 && remaining[0].Index == sibIndex:
			sibling = remaining[0]
			remaining = remaining[1:]
			newly = append(newly, sibling)
		default:
			stored, ok := v.store.Node(sibIndex)
			if !ok {
				return v.verifyRoot(current, remaining, signature, newly)
			}
			sibling = stored
		}

		left, right := current, sibling
		if sibling.Index < current.Index {
			left, right = sibling, left
		}
		current = Node{
			Index: flattree.Parent(current.Index),
			Hash:  crypto.ParentHash(left.Size+right.Size, left.Hash, right.Hash),
			Size:  left.Size + right.Size,
		}
		newly = append(newly, current)
	}
}

// verifyRoot is the end of the upward walk: current cannot be combined any
// further, so it must be a root of the new tree head. Any remaining
// supplied nodes are the other roots. The head is accepted only when the
// signature over its root hash verifies.
func (v *Verifier) verifyRoot(current Node, remaining []Node, signature []byte, newly []Node) ([]Node, error) {
	if len(signature) == 0 || v.verify == nil {
		return nil, ErrProofIncomplete
	}

	roots := make([]Node, 0, len(remaining)+1)
	roots = append(roots, current)
	roots = append(roots, remaining...)
	sort.Slice(roots, func(i, j int) bool { return roots[i].Index < roots[j].Index })

	treeRoots := make([]crypto.TreeRoot, len(roots))
	for i, r := range roots {
		treeRoots[i] = crypto.TreeRoot{Index: r.Index, Size: r.Size, Hash: r.Hash}
	}
	if !v.verify(crypto.TreeHash(treeRoots), signature, v.publicKey) {
		return nil, fmt.Errorf("%w: signature over tree head", ErrProofMismatch)
	}
	return append(newly, remaining...), nil
}
