// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mock provides an in-memory Store for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/flattree"
	"github.com/sleepnet/hypersync/pkg/merkle"
)

// Store keeps chunks and trusted tree nodes in maps. It satisfies
// replication.Store.
type Store struct {
	mu     sync.Mutex
	chunks map[uint64][]byte
	nodes  map[uint64]merkle.Node
	length uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		chunks: make(map[uint64][]byte),
		nodes:  make(map[uint64]merkle.Node),
	}
}

// NewPopulated returns a store holding the given chunks with a fully
// computed tree over them.
func NewPopulated(values [][]byte) *Store {
	s := New()
	for i, v := range values {
		s.chunks[uint64(i)] = v
		s.nodes[uint64(2*i)] = merkle.Node{
			Index: uint64(2 * i),
			Hash:  crypto.LeafHash(v),
			Size:  uint64(len(v)),
		}
	}
	s.length = uint64(len(values))
	for _, root := range flattree.FullRoots(2 * uint64(len(values))) {
		s.fill(root)
	}
	return s
}

func (s *Store) fill(index uint64) merkle.Node {
	if n, ok := s.nodes[index]; ok {
		return n
	}
	leftIndex, _ := flattree.LeftChild(index)
	rightIndex, _ := flattree.RightChild(index)
	left := s.fill(leftIndex)
	right := s.fill(rightIndex)
	n := merkle.Node{
		Index: index,
		Hash:  crypto.ParentHash(left.Size+right.Size, left.Hash, right.Hash),
		Size:  left.Size + right.Size,
	}
	s.nodes[index] = n
	return n
}

// Has reports whether the chunk at index is present.
func (s *Store) Has(index uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunks[index]
	return ok, nil
}

// Data returns the chunk bytes at index.
func (s *Store) Data(_ context.Context, index uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.chunks[index]
	if !ok {
		return nil, fmt.Errorf("no chunk at index %d", index)
	}
	return v, nil
}

// Node returns the trusted tree node at a flat index.
func (s *Store) Node(index uint64) (merkle.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[index]
	return n, ok
}

// Roots returns the current full subtree roots, ascending by index.
func (s *Store) Roots() []merkle.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roots []merkle.Node
	for _, index := range flattree.FullRoots(2 * s.length) {
		if n, ok := s.nodes[index]; ok {
			roots = append(roots, n)
		}
	}
	return roots
}

// Length returns the number of chunks known to the log, including gaps.
func (s *Store) Length() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Put persists a verified chunk and its newly trusted nodes.
func (s *Store) Put(_ context.Context, index uint64, data []byte, nodes []merkle.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[index] = data
	for _, n := range nodes {
		s.nodes[n.Index] = n
	}
	if index+1 > s.length {
		s.length = index + 1
	}
	return nil
}
