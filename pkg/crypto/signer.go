// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ed25519"
	"errors"
)

// ErrInvalidKey is returned when a key has the wrong length for its
// algorithm.
var ErrInvalidKey = errors.New("invalid key length")

// Signer produces signatures over root-hash digests. The replication core
// only ever transports the resulting bytes.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	PublicKey() []byte
}

// VerifyFunc checks a signature over a root-hash digest. Implementations
// are injected into the session; the core never selects an algorithm
// itself.
type VerifyFunc func(digest, signature, publicKey []byte) bool

type ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps an ed25519 private key as a Signer.
func NewEd25519Signer(key ed25519.PrivateKey) (Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return &ed25519Signer{key: key}, nil
}

func (s *ed25519Signer) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest), nil
}

func (s *ed25519Signer) PublicKey() []byte {
	return s.key.Public().(ed25519.PublicKey)
}

// Ed25519Verify is the stock VerifyFunc for ed25519-signed logs.
func Ed25519Verify(digest, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), digest, signature)
}
