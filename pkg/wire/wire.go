// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the replication wire format: the
// length-prefixed frame envelope multiplexing the two channels, the ten
// message payloads plus the extension escape, and the pluggable payload
// codec with its stock protobuf implementation.
package wire

import "github.com/sleepnet/hypersync/pkg/merkle"

// The two channels every connection multiplexes.
const (
	ChannelMetadata uint8 = 0
	ChannelContent  uint8 = 1

	// NumChannels is the channel id bound; ids at or above it are
	// rejected.
	NumChannels uint8 = 2
)

// Type identifies a message kind. It occupies the low four bits of a
// frame header.
type Type uint8

const (
	TypeFeed      Type = 0
	TypeHandshake Type = 1
	TypeInfo      Type = 2
	TypeHave      Type = 3
	TypeUnhave    Type = 4
	TypeWant      Type = 5
	TypeUnwant    Type = 6
	TypeRequest   Type = 7
	TypeCancel    Type = 8
	TypeData      Type = 9

	// TypeExtension marks a user-defined message; its payload starts
	// with a varint user type. Values 10 through 14 are reserved.
	TypeExtension Type = 15
)

func (t Type) String() string {
	switch t {
	case TypeFeed:
		return "feed"
	case TypeHandshake:
		return "handshake"
	case TypeInfo:
		return "info"
	case TypeHave:
		return "have"
	case TypeUnhave:
		return "unhave"
	case TypeWant:
		return "want"
	case TypeUnwant:
		return "unwant"
	case TypeRequest:
		return "request"
	case TypeCancel:
		return "cancel"
	case TypeData:
		return "data"
	case TypeExtension:
		return "extension"
	}
	return "reserved"
}

// Known reports whether t is a defined message kind. Unknown types must
// be skipped, not treated as fatal.
func (t Type) Known() bool {
	return t <= TypeData || t == TypeExtension
}

// Message is one decoded payload. Concrete types are the structs below.
type Message interface {
	Type() Type
}

// Feed opens a channel for one log, identified by the discovery key so
// the log's public key never crosses the wire. It must be the first
// message on its channel.
type Feed struct {
	DiscoveryKey []byte
	Nonce        []byte
}

func (*Feed) Type() Type { return TypeFeed }

// Handshake is sent once on the metadata channel, directly after its
// Feed. Extensions is the ordered list of extension names this peer
// speaks.
type Handshake struct {
	ID         []byte
	Live       bool
	UserData   []byte
	Extensions []string
}

func (*Handshake) Type() Type { return TypeHandshake }

// Info updates the sender's uploading/downloading flags. Nil fields leave
// the previous value in place; both default to true at session start.
type Info struct {
	Uploading   *bool
	Downloading *bool
}

func (*Info) Type() Type { return TypeInfo }

// Have declares possession of chunks [Start, Start+Length), or of the
// sparse pattern in Bitfield relative to Start when it is present.
// Length defaults to 1 when absent from the wire.
type Have struct {
	Start    uint64
	Length   uint64
	Bitfield []byte
}

func (*Have) Type() Type { return TypeHave }

// Unhave retracts possession of chunks [Start, Start+Length). Length
// defaults to 1 when absent from the wire.
type Unhave struct {
	Start  uint64
	Length uint64
}

func (*Unhave) Type() Type { return TypeUnhave }

// Want asks the remote to announce chunks in [Start, Start+Length).
// Length zero means unbounded while the session is live, otherwise
// bounded by the remote's known length.
type Want struct {
	Start  uint64
	Length uint64
}

func (*Want) Type() Type { return TypeWant }

// Unwant withdraws a prior Want.
type Unwant struct {
	Start  uint64
	Length uint64
}

func (*Unwant) Type() Type { return TypeUnwant }

// Request asks for the chunk at Index. Nodes carries the requester's
// ancestor-presence flags and the signature-wanted bit. Hash asks for the
// hash only, without the chunk data.
type Request struct {
	Index uint64
	Bytes uint64
	Hash  bool
	Nodes merkle.AncestorSet
}

func (*Request) Type() Type { return TypeRequest }

// Cancel withdraws the pending Request with the same (Index, Bytes, Hash)
// key. Arriving after the matching Data is a normal race.
type Cancel struct {
	Index uint64
	Bytes uint64
	Hash  bool
}

func (*Cancel) Type() Type { return TypeCancel }

// Data answers a Request: the chunk value plus the proof nodes connecting
// it to a trusted hash, and a tree-head signature when one was asked for.
type Data struct {
	Index     uint64
	Value     []byte
	Nodes     []merkle.Node
	Signature []byte
}

func (*Data) Type() Type { return TypeData }

// Extension is the user-defined escape. UserType keys the registered
// handler; unregistered types are dropped silently.
type Extension struct {
	UserType uint64
	Payload  []byte
}

func (*Extension) Type() Type { return TypeExtension }

// Bool returns a pointer to v, for Info's optional fields.
func Bool(v bool) *bool {
	return &v
}
