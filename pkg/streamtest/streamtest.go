// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package streamtest provides an in-memory duplex stream pair for testing
// protocol sessions without real connections.
package streamtest

import (
	"io"
	"sync"
)

// Pipe returns two connected streams. Bytes written to one are read from
// the other. Writes are buffered and never block; reads block until data
// arrives or the other end closes.
func Pipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	a2b := newBuffer()
	b2a := newBuffer()
	a := &stream{in: b2a, out: a2b}
	b := &stream{in: a2b, out: b2a}
	return a, b
}

type stream struct {
	in  *buffer
	out *buffer
}

func (s *stream) Read(p []byte) (int, error) {
	return s.in.read(p)
}

func (s *stream) Write(p []byte) (int, error) {
	return s.out.write(p)
}

// Close closes both directions. The peer's pending reads return io.EOF
// once the buffered bytes are drained; its writes fail immediately.
func (s *stream) Close() error {
	s.in.close()
	s.out.close()
	return nil
}

type buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	b      []byte
	closed bool
}

func newBuffer() *buffer {
	buf := &buffer{}
	buf.cond = sync.NewCond(&buf.mu)
	return buf
}

func (b *buffer) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.b) == 0 {
		if b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	n := copy(p, b.b)
	b.b = b.b[n:]
	return n, nil
}

func (b *buffer) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.b = append(b.b, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
