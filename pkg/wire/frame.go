// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sleepnet/hypersync/pkg/varint"
)

// MaxFrameSize is the default cap on a single frame, header included. It
// guards against a hostile peer forcing unbounded allocation.
const MaxFrameSize = 8 << 20

var (
	// ErrFrameTooLarge is returned when a frame exceeds the reader's or
	// writer's size cap. Fatal to the connection.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrUnknownChannel is returned for a channel id outside {0,1}.
	// Fatal to the connection.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrMalformedFrame is returned when a frame is truncated or its
	// header cannot be decoded. Fatal to the connection.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is one envelope: <length><header><payload> on the wire, where
// header packs channel<<4 | type.
type Frame struct {
	Channel uint8
	Type    Type
	Payload []byte
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r   io.Reader
	max uint64
}

// NewReader returns a Reader with the default frame size cap.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, MaxFrameSize)
}

// NewReaderSize returns a Reader that rejects frames larger than max
// bytes.
func NewReaderSize(r io.Reader, max uint64) *Reader {
	return &Reader{r: r, max: max}
}

// ReadFrame reads the next frame. Zero-length frames are keepalives and
// are skipped. A cleanly closed stream surfaces as io.EOF.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		length, err := varint.Read(r.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("%w: length prefix: %v", ErrMalformedFrame, err)
		}
		if length == 0 {
			continue
		}
		if length > r.max {
			return Frame{}, fmt.Errorf("%w: %d bytes, cap %d", ErrFrameTooLarge, length, r.max)
		}

		buf := make([]byte, length)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return Frame{}, fmt.Errorf("%w: body: %v", ErrMalformedFrame, err)
		}
		header, n, err := varint.Decode(buf)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: header: %v", ErrMalformedFrame, err)
		}
		channel := header >> 4
		if channel >= uint64(NumChannels) {
			return Frame{}, fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
		}
		return Frame{
			Channel: uint8(channel),
			Type:    Type(header & 0xf),
			Payload: buf[n:],
		}, nil
	}
}

// Writer encodes frames onto a byte stream. It is safe for concurrent
// use; each frame is written with a single Write call.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	max uint64
}

// NewWriter returns a Writer with the default frame size cap.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, max: MaxFrameSize}
}

// WriteFrame frames and writes one message payload.
func (w *Writer) WriteFrame(channel uint8, t Type, payload []byte) error {
	if channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channel)
	}
	header := uint64(channel)<<4 | uint64(t)
	length := uint64(varint.Len(header) + len(payload))
	if length > w.max {
		return fmt.Errorf("%w: %d bytes, cap %d", ErrFrameTooLarge, length, w.max)
	}

	buf := make([]byte, 0, varint.Len(length)+int(length))
	buf = varint.Append(buf, length)
	buf = varint.Append(buf, header)
	buf = append(buf, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}

// WriteKeepalive writes a zero-length frame.
func (w *Writer) WriteKeepalive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write([]byte{0})
	return err
}
