// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package replication drives the peer-side protocol state machine: one
// Session per connection, multiplexing the metadata and content channels
// over a single duplex stream. The session tracks what the remote has and
// wants, keeps the in-flight request table in both directions, verifies
// incoming Data against the trusted Merkle tree, and decides when a
// finite (non-live) channel is done.
package replication

import (
	"context"
	"errors"

	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/merkle"
)

var (
	// ErrProtocolViolation is returned when the remote breaks the
	// message ordering or state rules; the session closes.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrChannelNotOpen is returned for operations on a channel this
	// side never opened.
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrSessionClosed is returned from sends after teardown.
	ErrSessionClosed = errors.New("session closed")
	// ErrKeyMismatch is returned when the remote's Feed announces a
	// different log than the one this side opened the channel for.
	ErrKeyMismatch = errors.New("feed discovery key mismatch")
)

// Store is the injected log storage collaborator. It owns the chunks and
// the trusted Merkle nodes; the session never persists anything itself.
// Node and Roots make every Store a merkle.TreeStore.
type Store interface {
	// Has reports whether the chunk at index is present locally.
	Has(index uint64) (bool, error)
	// Data returns the chunk bytes at index.
	Data(ctx context.Context, index uint64) ([]byte, error)
	// Node returns the trusted tree node at a flat index, if known.
	Node(index uint64) (merkle.Node, bool)
	// Roots returns the current full subtree roots, ascending.
	Roots() []merkle.Node
	// Length returns the number of chunks in the local log.
	Length() uint64
	// Put persists a verified chunk and its newly trusted tree nodes.
	Put(ctx context.Context, index uint64, data []byte, nodes []merkle.Node) error
}

// ChannelConfig opens one channel of a session for one log.
type ChannelConfig struct {
	// Key is the log's public key. The discovery key announced in the
	// Feed is derived from it unless DiscoveryKey is set explicitly.
	Key          []byte
	DiscoveryKey []byte
	// Nonce is carried verbatim in the Feed when set.
	Nonce []byte

	Store Store

	// Verify checks tree-head signatures for this log; nil accepts only
	// hash-chained proofs.
	Verify crypto.VerifyFunc
	// Signer produces tree-head signatures when the remote requests
	// them; nil means signature requests are answered unsigned.
	Signer crypto.Signer

	// OnHave is called after the remote's possession state changed.
	OnHave func(start, length uint64)
	// OnData is called after an incoming chunk verified and was stored.
	OnData func(index uint64, value []byte)
	// OnInvalidData is called when an incoming Data failed proof
	// verification. The chunk is discarded either way; the caller may
	// choose to disconnect.
	OnInvalidData func(index uint64, err error)
}

// ExtensionHandler consumes the payload of one user-defined extension
// message.
type ExtensionHandler func(channel uint8, payload []byte)
