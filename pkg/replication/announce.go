// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/sleepnet/hypersync/pkg/bitfield"
	"github.com/sleepnet/hypersync/pkg/flattree"
	"github.com/sleepnet/hypersync/pkg/merkle"
	"github.com/sleepnet/hypersync/pkg/wire"
)

// activeChannel returns the channel if it is open and usable for traffic.
func (s *Session) activeChannel(channel uint8) (*channel, error) {
	if channel >= wire.NumChannels {
		return nil, fmt.Errorf("%w: %d", wire.ErrUnknownChannel, channel)
	}
	if s.closed {
		return nil, ErrSessionClosed
	}
	ch := s.channels[channel]
	if !ch.open() || ch.state == stateClosed {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelNotOpen, channel)
	}
	return ch, nil
}

// Have announces possession of [start, start+length) to the remote. The
// announcement is suppressed when the remote never asked to hear about
// that range. Newly satisfiable requests the remote queued earlier are
// answered on the spot.
func (s *Session) Have(ctx context.Context, channel uint8, start, length uint64) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wanted := ch.wantedRemotely(start)
	var satisfiable []requestKey
	for key := range ch.inbound {
		if key.index >= start && key.index < start+length {
			satisfiable = append(satisfiable, key)
		}
	}
	s.mu.Unlock()

	if wanted {
		if err := s.send(channel, &wire.Have{Start: start, Length: length}); err != nil {
			return err
		}
	}

	for _, key := range satisfiable {
		s.mu.Lock()
		p, ok := ch.inbound[key]
		if ok {
			err = s.serveLocked(ctx, ch, key, p.ancestors)
		}
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// HaveBitfield announces a sparse possession pattern starting at start,
// RLE-compressed on the wire.
func (s *Session) HaveBitfield(channel uint8, start uint64, pattern *bitfield.BitVector) error {
	s.mu.Lock()
	_, err := s.activeChannel(channel)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(channel, &wire.Have{
		Start:    start,
		Length:   1,
		Bitfield: bitfield.Encode(pattern),
	})
}

// Unhave retracts an earlier possession announcement.
func (s *Session) Unhave(channel uint8, start, length uint64) error {
	s.mu.Lock()
	_, err := s.activeChannel(channel)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(channel, &wire.Unhave{Start: start, Length: length})
}

// Want subscribes to possession announcements for [start, start+length).
// length zero means everything from start onward, including future
// appends while the session is live.
func (s *Session) Want(channel uint8, start, length uint64) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err == nil {
		ch.localWants = append(ch.localWants, wantRange{start: start, length: length})
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(channel, &wire.Want{Start: start, Length: length})
}

// Unwant retracts an earlier Want, matched by start.
func (s *Session) Unwant(channel uint8, start, length uint64) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err == nil {
		ch.localWants, _ = removeWant(ch.localWants, start)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(channel, &wire.Unwant{Start: start, Length: length})
}

// Request asks the remote for the chunk at index. hash requests the proof
// nodes only, without the chunk value. The call blocks while the per-
// channel in-flight limit is reached, until a slot frees or ctx expires.
// The ancestor set is derived from local state: proof-path nodes already
// trusted are declared so the remote can omit them, and a tree-head
// signature is wanted whenever no root is trusted yet.
func (s *Session) Request(ctx context.Context, channel uint8, index uint64, hash bool) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ancestors := localAncestors(ch.cfg.Store, index)
	inflight := ch.inflight
	s.mu.Unlock()

	select {
	case inflight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	key := requestKey{index: index, hash: hash}

	s.mu.Lock()
	if s.closed || ch.state == stateClosed {
		s.mu.Unlock()
		<-inflight
		return ErrSessionClosed
	}
	ch.outbound[key] = &pendingRequest{key: key, ancestors: ancestors, created: time.Now()}
	s.mu.Unlock()

	s.metrics.PendingRequests.Inc()
	s.metrics.RequestsSent.Inc()

	err = s.send(channel, &wire.Request{Index: index, Hash: hash, Nodes: ancestors})
	if err != nil {
		s.mu.Lock()
		if _, ok := ch.outbound[key]; ok {
			delete(ch.outbound, key)
			<-inflight
			s.metrics.PendingRequests.Dec()
		}
		s.mu.Unlock()
	}
	return err
}

// Cancel retracts an outstanding Request. Harmless when the answer
// already arrived or was never pending.
func (s *Session) Cancel(channel uint8, index uint64, hash bool) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	key := requestKey{index: index, hash: hash}
	if _, ok := ch.outbound[key]; ok {
		delete(ch.outbound, key)
		<-ch.inflight
		s.metrics.PendingRequests.Dec()
	}
	s.mu.Unlock()
	return s.send(channel, &wire.Cancel{Index: index, Hash: hash})
}

// SetUploading toggles whether this side serves Requests on the channel
// and informs the remote. Requests that queued up while uploads were
// paused are answered when uploading resumes.
func (s *Session) SetUploading(ctx context.Context, channel uint8, uploading bool) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ch.localUploading = uploading
	s.mu.Unlock()
	if err := s.send(channel, &wire.Info{Uploading: wire.Bool(uploading)}); err != nil {
		return err
	}
	if !uploading {
		return nil
	}

	s.mu.Lock()
	held := make([]*pendingRequest, 0, len(ch.inbound))
	for _, p := range ch.inbound {
		held = append(held, p)
	}
	s.mu.Unlock()

	for _, p := range held {
		s.mu.Lock()
		var serveErr error
		if _, pending := ch.inbound[p.key]; pending && ch.state == stateActive {
			ok, hasErr := ch.cfg.Store.Has(p.key.index)
			if hasErr == nil && ok {
				serveErr = s.serveLocked(ctx, ch, p.key, p.ancestors)
			}
		}
		s.mu.Unlock()
		if serveErr != nil {
			s.logger.WithError(serveErr).WithField("index", p.key.index).
				Debug("cannot serve held request")
		}
	}
	return nil
}

// SetDownloading declares whether this side still wants chunks. Turning
// it off on every channel lets a non-live session wind down.
func (s *Session) SetDownloading(channel uint8, downloading bool) error {
	s.mu.Lock()
	ch, err := s.activeChannel(channel)
	finished := false
	if err == nil {
		ch.localDownloading = downloading
		finished = s.maybeFinishLocked() != nil
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.send(channel, &wire.Info{Downloading: wire.Bool(downloading)}); err != nil {
		return err
	}
	// The remote may already have reported done; then nothing further
	// arrives to trigger the wind-down.
	if finished {
		return s.Close()
	}
	return nil
}

// Extension sends one user-defined message. The userType indexes into the
// extension list announced in this side's Handshake.
func (s *Session) Extension(channel uint8, userType uint64, payload []byte) error {
	s.mu.Lock()
	_, err := s.activeChannel(channel)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.send(channel, &wire.Extension{UserType: userType, Payload: payload})
}

// Keepalive emits a zero-length frame. Peers skip it; its only purpose is
// to keep idle transports from timing out.
func (s *Session) Keepalive() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writer.WriteKeepalive()
}

// localAncestors computes the set of proof-path nodes already trusted for
// a chunk, so the remote can skip resending them. The signature bit is set
// while no tree head is trusted yet.
func localAncestors(store Store, index uint64) merkle.AncestorSet {
	var set merkle.AncestorSet
	if len(store.Roots()) == 0 {
		set.SetSignature()
	}
	for pos, cursor := 0, 2*index; pos < 63; pos++ {
		if _, ok := store.Node(flattree.Sibling(cursor)); ok {
			set.SetAncestor(pos)
		}
		cursor = flattree.Parent(cursor)
		if _, ok := store.Node(cursor); ok {
			// The walk terminates here anyway; nothing above matters.
			break
		}
	}
	return set
}
