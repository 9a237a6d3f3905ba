// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bitfield provides the bit vector tracking chunk possession and
// the run-length codec that carries it on the wire.
package bitfield

// BitVector is a growable sequence of bits packed most significant bit
// first, the order the wire format uses.
type BitVector struct {
	length int
	b      []byte
}

// New returns a zeroed bit vector of the given length in bits.
func New(length int) *BitVector {
	return &BitVector{
		length: length,
		b:      make([]byte, (length+7)/8),
	}
}

// NewFromBytes wraps packed bytes as a bit vector of length bits. The
// slice is not copied.
func NewFromBytes(b []byte, length int) *BitVector {
	if max := len(b) * 8; length > max || length < 0 {
		length = max
	}
	return &BitVector{length: length, b: b}
}

// Len returns the length in bits.
func (v *BitVector) Len() int {
	return v.length
}

// Get reports whether bit i is set. Bits past the end read as false.
func (v *BitVector) Get(i int) bool {
	if i < 0 || i >= v.length {
		return false
	}
	return v.b[i/8]&(0x80>>(i%8)) != 0
}

// Set sets bit i to val, growing the vector when i is past the end.
func (v *BitVector) Set(i int, val bool) {
	if i < 0 {
		return
	}
	if i >= v.length {
		v.length = i + 1
		if need := (v.length + 7) / 8; need > len(v.b) {
			grown := make([]byte, need)
			copy(grown, v.b)
			v.b = grown
		}
	}
	if val {
		v.b[i/8] |= 0x80 >> (i % 8)
	} else {
		v.b[i/8] &^= 0x80 >> (i % 8)
	}
}

// Bytes returns the packed backing bytes. The slice is shared, not copied.
func (v *BitVector) Bytes() []byte {
	return v.b
}
