// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sleepnet/hypersync/pkg/merkle"
	"github.com/sleepnet/hypersync/pkg/varint"
)

var (
	// ErrUnknownMessageType is returned for the reserved type values 10
	// through 14. Receivers skip such frames; the session survives.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrMalformedMessage is returned when a payload does not parse as
	// its message schema.
	ErrMalformedMessage = errors.New("malformed message payload")
)

// Codec translates between decoded messages and payload bytes. The wire
// schema of the payloads is fixed; Codec exists so the field-level
// encoding stays swappable.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(t Type, payload []byte) (Message, error)
}

// ProtobufCodec is the stock Codec, implementing the SLEEP protobuf
// payload schema.
type ProtobufCodec struct{}

func (ProtobufCodec) Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *Feed:
		var b []byte
		b = appendBytesField(b, 1, msg.DiscoveryKey)
		if len(msg.Nonce) > 0 {
			b = appendBytesField(b, 2, msg.Nonce)
		}
		return b, nil

	case *Handshake:
		var b []byte
		if len(msg.ID) > 0 {
			b = appendBytesField(b, 1, msg.ID)
		}
		if msg.Live {
			b = appendBoolField(b, 2, true)
		}
		if len(msg.UserData) > 0 {
			b = appendBytesField(b, 3, msg.UserData)
		}
		for _, name := range msg.Extensions {
			b = appendBytesField(b, 4, []byte(name))
		}
		return b, nil

	case *Info:
		var b []byte
		if msg.Uploading != nil {
			b = appendBoolField(b, 1, *msg.Uploading)
		}
		if msg.Downloading != nil {
			b = appendBoolField(b, 2, *msg.Downloading)
		}
		return b, nil

	case *Have:
		b := appendUintField(nil, 1, msg.Start)
		if msg.Length > 1 {
			b = appendUintField(b, 2, msg.Length)
		}
		if len(msg.Bitfield) > 0 {
			b = appendBytesField(b, 3, msg.Bitfield)
		}
		return b, nil

	case *Unhave:
		b := appendUintField(nil, 1, msg.Start)
		if msg.Length > 1 {
			b = appendUintField(b, 2, msg.Length)
		}
		return b, nil

	case *Want:
		b := appendUintField(nil, 1, msg.Start)
		if msg.Length > 0 {
			b = appendUintField(b, 2, msg.Length)
		}
		return b, nil

	case *Unwant:
		b := appendUintField(nil, 1, msg.Start)
		if msg.Length > 0 {
			b = appendUintField(b, 2, msg.Length)
		}
		return b, nil

	case *Request:
		b := appendUintField(nil, 1, msg.Index)
		if msg.Bytes > 0 {
			b = appendUintField(b, 2, msg.Bytes)
		}
		if msg.Hash {
			b = appendBoolField(b, 3, true)
		}
		if msg.Nodes != 0 {
			b = appendUintField(b, 4, msg.Nodes.Uint64())
		}
		return b, nil

	case *Cancel:
		b := appendUintField(nil, 1, msg.Index)
		if msg.Bytes > 0 {
			b = appendUintField(b, 2, msg.Bytes)
		}
		if msg.Hash {
			b = appendBoolField(b, 3, true)
		}
		return b, nil

	case *Data:
		b := appendUintField(nil, 1, msg.Index)
		if len(msg.Value) > 0 {
			b = appendBytesField(b, 2, msg.Value)
		}
		for _, n := range msg.Nodes {
			b = appendBytesField(b, 3, marshalNode(n))
		}
		if len(msg.Signature) > 0 {
			b = appendBytesField(b, 4, msg.Signature)
		}
		return b, nil

	case *Extension:
		b := varint.Encode(msg.UserType)
		return append(b, msg.Payload...), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, m)
}

func (ProtobufCodec) Decode(t Type, payload []byte) (Message, error) {
	switch t {
	case TypeFeed:
		msg := new(Feed)
		err := eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.DiscoveryKey = f.bytes()
			case 2:
				msg.Nonce = f.bytes()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(msg.DiscoveryKey) == 0 {
			return nil, fmt.Errorf("%w: feed without discovery key", ErrMalformedMessage)
		}
		return msg, nil

	case TypeHandshake:
		msg := new(Handshake)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.ID = f.bytes()
			case 2:
				msg.Live = f.uint() != 0
			case 3:
				msg.UserData = f.bytes()
			case 4:
				msg.Extensions = append(msg.Extensions, string(f.raw))
			}
			return nil
		})

	case TypeInfo:
		msg := new(Info)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Uploading = Bool(f.uint() != 0)
			case 2:
				msg.Downloading = Bool(f.uint() != 0)
			}
			return nil
		})

	case TypeHave:
		msg := &Have{Length: 1}
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Start = f.uint()
			case 2:
				msg.Length = f.uint()
			case 3:
				msg.Bitfield = f.bytes()
			}
			return nil
		})

	case TypeUnhave:
		msg := &Unhave{Length: 1}
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Start = f.uint()
			case 2:
				msg.Length = f.uint()
			}
			return nil
		})

	case TypeWant:
		msg := new(Want)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Start = f.uint()
			case 2:
				msg.Length = f.uint()
			}
			return nil
		})

	case TypeUnwant:
		msg := new(Unwant)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Start = f.uint()
			case 2:
				msg.Length = f.uint()
			}
			return nil
		})

	case TypeRequest:
		msg := new(Request)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Index = f.uint()
			case 2:
				msg.Bytes = f.uint()
			case 3:
				msg.Hash = f.uint() != 0
			case 4:
				msg.Nodes = merkle.AncestorSet(f.uint())
			}
			return nil
		})

	case TypeCancel:
		msg := new(Cancel)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Index = f.uint()
			case 2:
				msg.Bytes = f.uint()
			case 3:
				msg.Hash = f.uint() != 0
			}
			return nil
		})

	case TypeData:
		msg := new(Data)
		return msg, eachField(payload, func(f field) error {
			switch f.num {
			case 1:
				msg.Index = f.uint()
			case 2:
				msg.Value = f.bytes()
			case 3:
				node, err := unmarshalNode(f.raw)
				if err != nil {
					return err
				}
				msg.Nodes = append(msg.Nodes, node)
			case 4:
				msg.Signature = f.bytes()
			}
			return nil
		})

	case TypeExtension:
		userType, n, err := varint.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: extension type: %v", ErrMalformedMessage, err)
		}
		return &Extension{
			UserType: userType,
			Payload:  append([]byte(nil), payload[n:]...),
		}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, t)
}

func marshalNode(n merkle.Node) []byte {
	b := appendUintField(nil, 1, n.Index)
	b = appendBytesField(b, 2, n.Hash)
	return appendUintField(b, 3, n.Size)
}

func unmarshalNode(raw []byte) (merkle.Node, error) {
	var n merkle.Node
	err := eachField(raw, func(f field) error {
		switch f.num {
		case 1:
			n.Index = f.uint()
		case 2:
			n.Hash = f.bytes()
		case 3:
			n.Size = f.uint()
		}
		return nil
	})
	return n, err
}

// field is one parsed protobuf field. raw holds the bytes of a
// length-delimited field, val the value of a varint field.
type field struct {
	num protowire.Number
	raw []byte
	val uint64
}

func (f field) uint() uint64 {
	return f.val
}

func (f field) bytes() []byte {
	return append([]byte(nil), f.raw...)
}

// eachField walks payload field by field, skipping field types the schema
// does not use.
func eachField(payload []byte, fn func(field) error) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return fmt.Errorf("%w: tag", ErrMalformedMessage)
		}
		payload = payload[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return fmt.Errorf("%w: varint field %d", ErrMalformedMessage, num)
			}
			payload = payload[n:]
			if err := fn(field{num: num, val: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return fmt.Errorf("%w: bytes field %d", ErrMalformedMessage, num)
			}
			payload = payload[n:]
			if err := fn(field{num: num, raw: v}); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return fmt.Errorf("%w: field %d", ErrMalformedMessage, num)
			}
			payload = payload[n:]
		}
	}
	return nil
}

func appendUintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return appendUintField(b, num, u)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
