// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crypto implements the SLEEP tree hashes and the injected
// signature primitives. Leaf, parent and root hashes are blake2b-256 with
// a one-byte domain prefix so a leaf can never be replayed as an interior
// node.
package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of every tree hash and discovery key.
const HashSize = 32

const (
	leafPrefix   = 0x00
	parentPrefix = 0x01
	rootPrefix   = 0x02
)

// hypercoreName keys the discovery-key hash, binding it to this protocol.
var hypercoreName = []byte("hypercore")

// TreeRoot describes one full subtree root entering a root hash.
type TreeRoot struct {
	Index uint64
	Size  uint64
	Hash  []byte
}

// LeafHash hashes chunk data into the leaf hash stored at the chunk's even
// tree index.
func LeafHash(data []byte) []byte {
	h, _ := blake2b.New256(nil)
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(data)))
	h.Write([]byte{leafPrefix})
	h.Write(size[:])
	h.Write(data)
	return h.Sum(nil)
}

// ParentHash combines two child hashes into their parent. size is the sum
// of the byte lengths spanned by both children; left and right must be in
// tree order.
func ParentHash(size uint64, left, right []byte) []byte {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], size)
	h.Write([]byte{parentPrefix})
	h.Write(buf[:])
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// TreeHash condenses the current full subtree roots into the single digest
// that signatures cover.
func TreeHash(roots []TreeRoot) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{rootPrefix})
	var buf [8]byte
	for _, r := range roots {
		h.Write(r.Hash)
		binary.BigEndian.PutUint64(buf[:], r.Index)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], r.Size)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// DiscoveryKey derives the public identifier a Feed message announces,
// a keyed hash that references a log without revealing its public key.
func DiscoveryKey(publicKey []byte) []byte {
	h, _ := blake2b.New256(publicKey)
	h.Write(hypercoreName)
	return h.Sum(nil)
}
