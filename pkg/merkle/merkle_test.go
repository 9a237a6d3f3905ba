// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package merkle_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/flattree"
	"github.com/sleepnet/hypersync/pkg/merkle"
)

// memTree is an in-memory flat Merkle tree over a fixed set of leaves.
type memTree struct {
	nodes map[uint64]merkle.Node
	roots []merkle.Node
}

func (m *memTree) Node(index uint64) (merkle.Node, bool) {
	n, ok := m.nodes[index]
	return n, ok
}

func (m *memTree) Roots() []merkle.Node {
	return m.roots
}

func (m *memTree) add(n merkle.Node) {
	m.nodes[n.Index] = n
}

// buildTree hashes the leaves into a complete tree with all interior
// nodes of every full subtree.
func buildTree(t *testing.T, leaves [][]byte) *memTree {
	t.Helper()

	m := &memTree{nodes: make(map[uint64]merkle.Node)}
	for i, data := range leaves {
		m.add(merkle.Node{
			Index: uint64(2 * i),
			Hash:  crypto.LeafHash(data),
			Size:  uint64(len(data)),
		})
	}
	var fill func(index uint64) merkle.Node
	fill = func(index uint64) merkle.Node {
		if n, ok := m.nodes[index]; ok {
			return n
		}
		leftIndex, rightIndex, ok := flattree.Children(index)
		if !ok {
			t.Fatalf("leaf %d missing", index)
		}
		left, right := fill(leftIndex), fill(rightIndex)
		n := merkle.Node{
			Index: index,
			Hash:  crypto.ParentHash(left.Size+right.Size, left.Hash, right.Hash),
			Size:  left.Size + right.Size,
		}
		m.add(n)
		return n
	}
	for _, root := range flattree.FullRoots(uint64(2 * len(leaves))) {
		m.roots = append(m.roots, fill(root))
	}
	return m
}

func fourLeaves(t *testing.T) *memTree {
	t.Helper()
	return buildTree(t, [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc"), []byte("ddd")})
}

func TestVerifyAgainstTrustedRoot(t *testing.T) {
	t.Parallel()

	server := fourLeaves(t)
	builder := merkle.NewBuilder(server, nil)

	nodes, sig, err := builder.Proof(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatal("unsolicited signature")
	}
	// Chunk 2 under a single root: uncles are leaf 6 and subtree 1.
	if len(nodes) != 2 || nodes[0].Index != 6 || nodes[1].Index != 1 {
		t.Fatalf("unexpected proof nodes %+v", nodes)
	}

	// The client trusts only the pre-shared root.
	client := &memTree{nodes: make(map[uint64]merkle.Node)}
	client.add(server.roots[0])

	v := merkle.NewVerifier(client, nil, nil)
	newly, err := v.Verify(2, []byte("ccc"), nodes, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[uint64]bool{4: true, 6: true, 5: true, 1: true, 3: true}
	for _, n := range newly {
		delete(want, n.Index)
	}
	if len(want) != 0 {
		t.Fatalf("nodes not marked trusted: %v (got %+v)", want, newly)
	}

	// Verification is deterministic.
	again, err := v.Verify(2, []byte("ccc"), nodes, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != len(newly) {
		t.Fatalf("second verification trusted %d nodes, first %d", len(again), len(newly))
	}
}

func TestVerifyMismatch(t *testing.T) {
	t.Parallel()

	server := fourLeaves(t)
	builder := merkle.NewBuilder(server, nil)
	nodes, _, err := builder.Proof(2, 0)
	if err != nil {
		t.Fatal(err)
	}

	client := &memTree{nodes: make(map[uint64]merkle.Node)}
	client.add(server.roots[0])
	v := merkle.NewVerifier(client, nil, nil)

	// Wrong chunk data.
	if _, err := v.Verify(2, []byte("CCC"), nodes, nil); !errors.Is(err, merkle.ErrProofMismatch) {
		t.Fatalf("wrong value: got %v, want ErrProofMismatch", err)
	}

	// One flipped byte in any proof node.
	for i := range nodes {
		tampered := make([]merkle.Node, len(nodes))
		for j, n := range nodes {
			h := append([]byte(nil), n.Hash...)
			if j == i {
				h[0] ^= 0x01
			}
			tampered[j] = merkle.Node{Index: n.Index, Hash: h, Size: n.Size}
		}
		if _, err := v.Verify(2, []byte("ccc"), tampered, nil); !errors.Is(err, merkle.ErrProofMismatch) {
			t.Fatalf("tampered node %d: got %v, want ErrProofMismatch", i, err)
		}
	}
}

func TestVerifyIncomplete(t *testing.T) {
	t.Parallel()

	server := fourLeaves(t)
	builder := merkle.NewBuilder(server, nil)
	nodes, _, err := builder.Proof(2, 0)
	if err != nil {
		t.Fatal(err)
	}

	client := &memTree{nodes: make(map[uint64]merkle.Node)}
	client.add(server.roots[0])
	v := merkle.NewVerifier(client, nil, nil)

	if _, err := v.Verify(2, []byte("ccc"), nodes[:1], nil); !errors.Is(err, merkle.ErrProofIncomplete) {
		t.Fatalf("truncated proof: got %v, want ErrProofIncomplete", err)
	}
	if _, err := v.Verify(2, []byte("ccc"), nil, nil); !errors.Is(err, merkle.ErrProofIncomplete) {
		t.Fatalf("empty proof: got %v, want ErrProofIncomplete", err)
	}
}

func TestVerifySignedHead(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := crypto.NewEd25519Signer(priv)
	if err != nil {
		t.Fatal(err)
	}

	// Three leaves: tree head has roots 1 and 4.
	server := buildTree(t, [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")})
	builder := merkle.NewBuilder(server, signer)

	var want merkle.AncestorSet
	want.SetSignature()
	nodes, sig, err := builder.Proof(0, want)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) == 0 {
		t.Fatal("requested signature missing")
	}

	// The client starts with nothing trusted at all.
	client := &memTree{nodes: make(map[uint64]merkle.Node)}
	v := merkle.NewVerifier(client, crypto.Ed25519Verify, pub)
	newly, err := v.Verify(0, []byte("aaa"), nodes, sig)
	if err != nil {
		t.Fatal(err)
	}
	trusted := map[uint64]bool{}
	for _, n := range newly {
		trusted[n.Index] = true
	}
	for _, index := range []uint64{0, 2, 1, 4} {
		if !trusted[index] {
			t.Errorf("node %d not trusted after signed verification", index)
		}
	}

	// Same proof, corrupted signature.
	bad := append([]byte(nil), sig...)
	bad[0] ^= 0xff
	if _, err := v.Verify(0, []byte("aaa"), nodes, bad); !errors.Is(err, merkle.ErrProofMismatch) {
		t.Fatalf("bad signature: got %v, want ErrProofMismatch", err)
	}

	// Same proof, no signature at all.
	if _, err := v.Verify(0, []byte("aaa"), nodes, nil); !errors.Is(err, merkle.ErrProofIncomplete) {
		t.Fatalf("missing signature: got %v, want ErrProofIncomplete", err)
	}
}

func TestProofSkipsHeldAncestors(t *testing.T) {
	t.Parallel()

	server := fourLeaves(t)
	builder := merkle.NewBuilder(server, nil)

	// The requester already holds subtree 1 (walk position 1 for chunk 2).
	var held merkle.AncestorSet
	held.SetAncestor(1)
	nodes, _, err := builder.Proof(2, held)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].Index != 6 {
		t.Fatalf("proof with held ancestor = %+v, want only node 6", nodes)
	}

	client := &memTree{nodes: make(map[uint64]merkle.Node)}
	client.add(server.roots[0])
	client.add(server.nodes[1])
	v := merkle.NewVerifier(client, nil, nil)
	if _, err := v.Verify(2, []byte("ccc"), nodes, nil); err != nil {
		t.Fatalf("verify with locally held ancestor: %v", err)
	}
}

func TestAncestorSet(t *testing.T) {
	t.Parallel()

	var a merkle.AncestorSet
	if a.WantsSignature() || a.HasAncestor(0) {
		t.Fatal("zero set must be empty")
	}
	a.SetSignature()
	a.SetAncestor(0)
	a.SetAncestor(62)
	a.SetAncestor(63) // out of range, ignored
	if !a.WantsSignature() || !a.HasAncestor(0) || !a.HasAncestor(62) {
		t.Fatalf("set bits missing: %b", a.Uint64())
	}
	if a.HasAncestor(1) || a.HasAncestor(63) || a.HasAncestor(-1) {
		t.Fatal("unexpected bits set")
	}
	if got := merkle.AncestorSet(a.Uint64()); got != a {
		t.Fatalf("round trip through Uint64 lost bits: %b != %b", got, a)
	}
}

func TestProofMissingLeaf(t *testing.T) {
	t.Parallel()

	server := fourLeaves(t)
	builder := merkle.NewBuilder(server, nil)
	if _, _, err := builder.Proof(9, 0); !errors.Is(err, merkle.ErrMissingNode) {
		t.Fatalf("out-of-range proof: got %v, want ErrMissingNode", err)
	}
}

func TestVerifyAcrossSizes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 8, 13} {
		n := n
		t.Run(fmt.Sprintf("%d-leaves", n), func(t *testing.T) {
			t.Parallel()

			var leaves [][]byte
			for i := 0; i < n; i++ {
				leaves = append(leaves, []byte(fmt.Sprintf("chunk-%03d", i)))
			}
			server := buildTree(t, leaves)
			builder := merkle.NewBuilder(server, nil)

			client := &memTree{nodes: make(map[uint64]merkle.Node)}
			for _, r := range server.roots {
				client.add(r)
			}
			v := merkle.NewVerifier(client, nil, nil)

			for i := 0; i < n; i++ {
				nodes, _, err := builder.Proof(uint64(i), 0)
				if err != nil {
					t.Fatalf("proof %d: %v", i, err)
				}
				if _, err := v.Verify(uint64(i), leaves[i], nodes, nil); err != nil {
					t.Fatalf("verify %d: %v", i, err)
				}
			}
		})
	}
}
