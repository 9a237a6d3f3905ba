// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replication

import (
	"math"
	"time"

	"github.com/sleepnet/hypersync/pkg/bitfield"
	"github.com/sleepnet/hypersync/pkg/merkle"
	"github.com/sleepnet/hypersync/pkg/wire"
)

// maxParkedMessages bounds how much traffic the remote may send on a
// channel before the local side opens it.
const maxParkedMessages = 64

type channelState uint8

const (
	stateAwaitFeed channelState = iota
	stateAwaitHandshake
	stateActive
	stateClosed
)

func (s channelState) String() string {
	switch s {
	case stateAwaitFeed:
		return "await-feed"
	case stateAwaitHandshake:
		return "await-handshake"
	case stateActive:
		return "active"
	}
	return "closed"
}

// requestKey identifies a Request for Cancel matching.
type requestKey struct {
	index uint64
	bytes uint64
	hash  bool
}

// pendingRequest tracks one outstanding Request until the matching Data,
// Cancel, or teardown.
type pendingRequest struct {
	key       requestKey
	ancestors merkle.AncestorSet
	created   time.Time
}

// wantRange is one half-open index range. length zero means open-ended:
// bounded only by the remote's known length as it grows, or by nothing at
// all while the session is live.
type wantRange struct {
	start  uint64
	length uint64
}

func (w wantRange) contains(index uint64) bool {
	if index < w.start {
		return false
	}
	return w.length == 0 || index < w.start+w.length
}

// channel is the per-channel half of the session state. All fields are
// guarded by the session mutex; only the read loop and the session's send
// methods touch them.
type channel struct {
	id    uint8
	state channelState

	cfg      ChannelConfig
	verifier *merkle.Verifier
	builder  *merkle.Builder

	discoveryKey []byte

	// remoteHave mirrors the remote's advertised possession. Overlapping
	// updates are resolved last-received-wins per index. Run-based so the
	// remote cannot inflate our memory with a huge start index.
	remoteHave   *bitfield.IndexSet
	remoteLength uint64

	// parked buffers messages that arrived before the local side opened
	// the channel. Open replays them in arrival order.
	parked []wire.Message

	// remoteWants are the ranges the remote asked us to announce;
	// localWants the ranges we asked of the remote. Incoming Have
	// messages must fall inside a local want.
	remoteWants []wantRange
	localWants  []wantRange

	// outbound tracks our unanswered Requests, inbound the remote's
	// Requests we could not serve yet.
	outbound map[requestKey]*pendingRequest
	inbound  map[requestKey]*pendingRequest

	// inflight caps the number of outstanding outbound requests;
	// acquiring blocks further Request emission rather than dropping.
	inflight chan struct{}

	localUploading    bool
	localDownloading  bool
	remoteUploading   bool
	remoteDownloading bool
}

func newChannel(id uint8, maxPending int) *channel {
	return &channel{
		id:                id,
		state:             stateAwaitFeed,
		remoteHave:        &bitfield.IndexSet{},
		outbound:          make(map[requestKey]*pendingRequest),
		inbound:           make(map[requestKey]*pendingRequest),
		inflight:          make(chan struct{}, maxPending),
		localUploading:    true,
		localDownloading:  true,
		remoteUploading:   true,
		remoteDownloading: true,
	}
}

func (c *channel) open() bool {
	return c.cfg.Store != nil
}

// applyHave marks [start, start+length) or the given sparse pattern as
// held by the remote. Later updates overwrite earlier ones.
func (c *channel) applyHave(start, length uint64, pattern *bitfield.BitVector) {
	if pattern != nil {
		// Coalesce the pattern into runs so sparse updates at a huge
		// start index stay cheap.
		for i := 0; i < pattern.Len(); {
			j := i
			bit := pattern.Get(i)
			for j < pattern.Len() && pattern.Get(j) == bit {
				j++
			}
			c.remoteHave.SetRange(start+uint64(i), uint64(j-i), bit)
			i = j
		}
		length = uint64(pattern.Len())
	} else {
		c.remoteHave.SetRange(start, length, true)
	}
	end := start + length
	if end < start {
		end = math.MaxUint64
	}
	if end > c.remoteLength {
		c.remoteLength = end
	}
}

func (c *channel) applyUnhave(start, length uint64) {
	c.remoteHave.SetRange(start, length, false)
}

// wantedLocally reports whether an incoming announcement for index was
// solicited by one of our Wants.
func (c *channel) wantedLocally(index uint64) bool {
	for _, w := range c.localWants {
		if w.contains(index) {
			return true
		}
	}
	return false
}

// wantedRemotely reports whether the remote asked to hear about index.
func (c *channel) wantedRemotely(index uint64) bool {
	for _, w := range c.remoteWants {
		if w.contains(index) {
			return true
		}
	}
	return false
}

// removeWant drops the recorded range matching an Unwant, returning false
// when no Want with that start was ever recorded.
func removeWant(wants []wantRange, start uint64) ([]wantRange, bool) {
	for i, w := range wants {
		if w.start == start {
			return append(wants[:i], wants[i+1:]...), true
		}
	}
	return wants, false
}

// resolveOutbound removes and returns pending outbound requests for a
// chunk index. Data carries no bytes/hash echo, so every key of the index
// resolves.
func (c *channel) resolveOutbound(index uint64) []*pendingRequest {
	var resolved []*pendingRequest
	for key, p := range c.outbound {
		if key.index == index {
			resolved = append(resolved, p)
			delete(c.outbound, key)
		}
	}
	return resolved
}

// discardPending empties both request tables, releasing every in-flight
// slot. Used at channel teardown.
func (c *channel) discardPending() {
	for key := range c.outbound {
		delete(c.outbound, key)
		<-c.inflight
	}
	for key := range c.inbound {
		delete(c.inbound, key)
	}
	c.parked = nil
}

// drained reports whether this channel may close: both sides stopped
// downloading and nobody asked to stay live.
func (c *channel) drained(localLive, remoteLive bool) bool {
	return !c.localDownloading && !c.remoteDownloading && !localLive && !remoteLive
}
