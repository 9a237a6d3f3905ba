// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield

import (
	"errors"
	"fmt"

	"github.com/sleepnet/hypersync/pkg/varint"
)

// ErrMalformed is returned for truncated input, an unreadable run header,
// or a run that expands past the decoder's allocation guard.
var ErrMalformed = errors.New("malformed bitfield")

// maxDecodedBytes bounds how far compressed runs may expand, so a short
// hostile header cannot force an arbitrarily large allocation. 1 MiB of
// packed bits covers 8M chunk indexes per message.
const maxDecodedBytes = 1 << 20

// Encode compresses the vector's packed bytes into the run-length wire
// form. Runs of identical all-zero or all-one bytes of length n become the
// header varint(n<<2 | bit<<1 | 1); any other stretch of n bytes becomes
// varint(n<<1) followed by the bytes themselves. An empty vector encodes
// to no bytes.
func Encode(v *BitVector) []byte {
	b := v.Bytes()
	var out []byte
	lit := 0 // start of the pending uncompressed run

	flush := func(end int) {
		if lit < end {
			out = varint.Append(out, uint64(end-lit)<<1)
			out = append(out, b[lit:end]...)
		}
	}

	for i := 0; i < len(b); {
		c := b[i]
		if c != 0x00 && c != 0xff {
			i++
			continue
		}
		j := i
		for j < len(b) && b[j] == c {
			j++
		}
		flush(i)
		var bit uint64
		if c == 0xff {
			bit = 1
		}
		out = varint.Append(out, uint64(j-i)<<2|bit<<1|1)
		i = j
		lit = j
	}
	flush(len(b))
	return out
}

// Decode expands run-length data back into a bit vector. Empty input
// yields an empty vector.
func Decode(data []byte) (*BitVector, error) {
	var out []byte
	for len(data) > 0 {
		header, n, err := varint.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: run header: %v", ErrMalformed, err)
		}
		data = data[n:]

		if header&1 == 1 {
			// Compressed run: length bytes of a repeated bit.
			length := header >> 2
			if length > maxDecodedBytes || len(out)+int(length) > maxDecodedBytes {
				return nil, fmt.Errorf("%w: run of %d bytes exceeds limit", ErrMalformed, length)
			}
			fill := byte(0x00)
			if header&2 != 0 {
				fill = 0xff
			}
			for i := uint64(0); i < length; i++ {
				out = append(out, fill)
			}
			continue
		}

		length := header >> 1
		if length > uint64(len(data)) {
			return nil, fmt.Errorf("%w: literal run of %d bytes, %d remain", ErrMalformed, length, len(data))
		}
		if len(out)+int(length) > maxDecodedBytes {
			return nil, fmt.Errorf("%w: literal run exceeds limit", ErrMalformed)
		}
		out = append(out, data[:length]...)
		data = data[length:]
	}
	return NewFromBytes(out, len(out)*8), nil
}
