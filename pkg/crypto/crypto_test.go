// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/sleepnet/hypersync/pkg/crypto"
)

func TestHashDomainsDiffer(t *testing.T) {
	t.Parallel()

	data := []byte("abc")
	leaf := crypto.LeafHash(data)
	if len(leaf) != crypto.HashSize {
		t.Fatalf("leaf hash size %d", len(leaf))
	}
	if bytes.Equal(leaf, crypto.LeafHash([]byte("abd"))) {
		t.Fatal("distinct data hashed equal")
	}

	other := crypto.LeafHash([]byte("def"))
	parent := crypto.ParentHash(6, leaf, other)
	if bytes.Equal(parent, crypto.ParentHash(6, other, leaf)) {
		t.Fatal("parent hash must depend on child order")
	}
	if bytes.Equal(parent, crypto.ParentHash(7, leaf, other)) {
		t.Fatal("parent hash must depend on span size")
	}
}

func TestTreeHashDependsOnRoots(t *testing.T) {
	t.Parallel()

	a := crypto.TreeRoot{Index: 1, Size: 6, Hash: crypto.LeafHash([]byte("a"))}
	b := crypto.TreeRoot{Index: 4, Size: 3, Hash: crypto.LeafHash([]byte("b"))}

	h1 := crypto.TreeHash([]crypto.TreeRoot{a, b})
	h2 := crypto.TreeHash([]crypto.TreeRoot{b, a})
	if bytes.Equal(h1, h2) {
		t.Fatal("tree hash must depend on root order")
	}

	shifted := a
	shifted.Index = 3
	if bytes.Equal(h1, crypto.TreeHash([]crypto.TreeRoot{shifted, b})) {
		t.Fatal("tree hash must depend on root indexes")
	}
}

func TestDiscoveryKey(t *testing.T) {
	t.Parallel()

	pub1, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pub2, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	dk1 := crypto.DiscoveryKey(pub1)
	if len(dk1) != crypto.HashSize {
		t.Fatalf("discovery key size %d", len(dk1))
	}
	if bytes.Equal(dk1, pub1) {
		t.Fatal("discovery key must not reveal the public key")
	}
	if bytes.Equal(dk1, crypto.DiscoveryKey(pub2)) {
		t.Fatal("distinct keys produced the same discovery key")
	}
	if !bytes.Equal(dk1, crypto.DiscoveryKey(pub1)) {
		t.Fatal("discovery key must be deterministic")
	}
}

func TestEd25519SignVerify(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := crypto.NewEd25519Signer(priv)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(signer.PublicKey(), pub) {
		t.Fatal("signer reports wrong public key")
	}

	digest := crypto.TreeHash([]crypto.TreeRoot{{Index: 0, Size: 3, Hash: crypto.LeafHash([]byte("abc"))}})
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.Ed25519Verify(digest, sig, pub) {
		t.Fatal("valid signature rejected")
	}
	sig[0] ^= 0xff
	if crypto.Ed25519Verify(digest, sig, pub) {
		t.Fatal("corrupted signature accepted")
	}
	if crypto.Ed25519Verify(digest, sig, []byte("short")) {
		t.Fatal("bad key accepted")
	}

	if _, err := crypto.NewEd25519Signer(priv[:10]); err == nil {
		t.Fatal("short private key accepted")
	}
}
