// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package varint implements the unsigned LEB128 integers used throughout
// the wire format for frame lengths, headers and numeric fields. Each byte
// carries seven data bits, the high bit marks continuation.
package varint

import (
	"errors"
	"io"
)

// MaxLen is the most bytes a 64-bit value can occupy on the wire.
const MaxLen = 10

var (
	// ErrMalformed is returned when input ends in the middle of a varint.
	ErrMalformed = errors.New("malformed varint")
	// ErrOverflow is returned when a varint does not fit a 64-bit value.
	ErrOverflow = errors.New("varint overflows 64 bits")
)

// Len returns the number of bytes Encode will produce for v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// Append appends the encoding of v to buf and returns the extended slice.
func Append(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Encode returns the encoding of v as a fresh slice.
func Encode(v uint64) []byte {
	return Append(make([]byte, 0, Len(v)), v)
}

// Decode reads one varint from the front of buf and returns the value and
// the number of bytes consumed.
func Decode(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range buf {
		if i == MaxLen-1 && b > 1 {
			return 0, 0, ErrOverflow
		}
		if i >= MaxLen {
			return 0, 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformed
}

// Read decodes one varint from r, consuming exactly the bytes the value
// occupies. An EOF before the first byte is reported as io.EOF so callers
// can detect a cleanly closed stream; an EOF mid-value is ErrMalformed.
func Read(r io.Reader) (uint64, error) {
	var (
		v     uint64
		shift uint
		one   [1]byte
	)
	for i := 0; ; i++ {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, ErrMalformed
		}
		b := one[0]
		if i == MaxLen-1 && b > 1 {
			return 0, ErrOverflow
		}
		if i >= MaxLen {
			return 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
	}
}
