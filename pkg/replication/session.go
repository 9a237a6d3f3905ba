// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/sleepnet/hypersync/pkg/bitfield"
	"github.com/sleepnet/hypersync/pkg/crypto"
	"github.com/sleepnet/hypersync/pkg/logging"
	"github.com/sleepnet/hypersync/pkg/merkle"
	"github.com/sleepnet/hypersync/pkg/wire"
)

// loggerName is the name of the logger for this package.
const loggerName = "replication"

// DefaultMaxPendingRequests caps in-flight outbound requests per channel
// unless Options overrides it. Further Request calls block.
const DefaultMaxPendingRequests = 16

// errDone signals the read loop that the session finished cleanly.
var errDone = errors.New("session done")

// Options configures a Session.
type Options struct {
	// ID is this peer's identifier, carried in the Handshake.
	ID []byte
	// Live keeps the session open past initial sync.
	Live bool
	// UserData is carried opaquely in the Handshake.
	UserData []byte
	// Extensions is the ordered list of extension names this peer
	// announces.
	Extensions []string

	// Codec overrides the payload codec; nil selects the protobuf one.
	Codec wire.Codec
	// Logger defaults to a discarding logger.
	Logger logging.Logger
	// MaxPendingRequests defaults to DefaultMaxPendingRequests.
	MaxPendingRequests int
}

// Session replicates logs with one remote peer over one duplex stream.
// All exported methods are safe for concurrent use; incoming messages are
// processed in arrival order per channel by Run.
type Session struct {
	stream io.ReadWriteCloser
	reader *wire.Reader
	writer *wire.Writer
	codec  wire.Codec
	logger *logrus.Entry

	metrics metrics
	opts    Options

	mu              sync.Mutex
	channels        [wire.NumChannels]*channel
	handshakeSent   bool
	remoteHandshake *wire.Handshake
	remoteLive      bool
	extensions      map[uint64]ExtensionHandler
	closed          bool

	callbacks *callbackRunner
	done      chan struct{}
}

// NewSession wraps a duplex stream in a replication session. Channels
// must be opened with Open before Run processes traffic for them.
func NewSession(stream io.ReadWriteCloser, opts Options) *Session {
	if opts.Codec == nil {
		opts.Codec = wire.ProtobufCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.MaxPendingRequests <= 0 {
		opts.MaxPendingRequests = DefaultMaxPendingRequests
	}
	s := &Session{
		stream:     stream,
		reader:     wire.NewReader(stream),
		writer:     wire.NewWriter(stream),
		codec:      opts.Codec,
		logger:     opts.Logger.WithField("logger", loggerName),
		metrics:    newMetrics(),
		opts:       opts,
		extensions: make(map[uint64]ExtensionHandler),
		callbacks:  newCallbackRunner(),
		done:       make(chan struct{}),
	}
	for i := range s.channels {
		s.channels[i] = newChannel(uint8(i), opts.MaxPendingRequests)
	}
	go s.callbacks.run()
	return s
}

// Open binds a channel to a log and announces it with a Feed. On the
// metadata channel the Handshake follows immediately. Traffic the remote
// sent before the local open is replayed in arrival order.
func (s *Session) Open(channel uint8, cfg ChannelConfig) error {
	if channel >= wire.NumChannels {
		return fmt.Errorf("%w: %d", wire.ErrUnknownChannel, channel)
	}
	if cfg.Store == nil {
		return errors.New("open: nil store")
	}
	discoveryKey := cfg.DiscoveryKey
	if discoveryKey == nil {
		if cfg.Key == nil {
			return errors.New("open: no key and no discovery key")
		}
		discoveryKey = crypto.DiscoveryKey(cfg.Key)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ch := s.channels[channel]
	if ch.open() {
		s.mu.Unlock()
		return fmt.Errorf("channel %d already open", channel)
	}
	ch.cfg = cfg
	ch.discoveryKey = discoveryKey
	ch.verifier = merkle.NewVerifier(cfg.Store, cfg.Verify, cfg.Key)
	ch.builder = merkle.NewBuilder(cfg.Store, cfg.Signer)
	sendHandshake := channel == wire.ChannelMetadata && !s.handshakeSent
	if sendHandshake {
		s.handshakeSent = true
	}

	// The writer serializes frames itself, so sending while the session
	// lock is held keeps the Feed ahead of anything the replay emits.
	if err := s.send(channel, &wire.Feed{DiscoveryKey: discoveryKey, Nonce: cfg.Nonce}); err != nil {
		s.mu.Unlock()
		return err
	}
	if sendHandshake {
		if err := s.send(channel, &wire.Handshake{
			ID:         s.opts.ID,
			Live:       s.opts.Live,
			UserData:   s.opts.UserData,
			Extensions: s.opts.Extensions,
		}); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	parked := ch.parked
	ch.parked = nil
	var replayErr error
	for _, m := range parked {
		post, err := s.handleLocked(context.Background(), channel, m)
		if post != nil {
			s.callbacks.enqueue(post)
		}
		if err != nil {
			replayErr = err
			break
		}
	}
	s.mu.Unlock()

	if replayErr != nil {
		_ = s.Close()
		if errors.Is(replayErr, errDone) {
			return nil
		}
		return replayErr
	}
	return nil
}

// RegisterExtension installs the handler for one user-defined extension
// type. Incoming extension messages with no handler are dropped.
func (s *Session) RegisterExtension(userType uint64, h ExtensionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions[userType] = h
}

// Run reads and processes frames until the stream closes, the context is
// canceled, or a fatal protocol error occurs. Messages on one channel are
// handled strictly in arrival order.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	for {
		frame, err := s.reader.ReadFrame()
		if err != nil {
			_ = s.Close()
			if errors.Is(err, io.EOF) || ctx.Err() != nil || s.isClosed() {
				return nil
			}
			return err
		}
		s.metrics.FramesIn.Inc()

		if !frame.Type.Known() {
			// Reserved type from a newer peer: skip, keep going.
			s.metrics.UnknownMessages.Inc()
			s.logger.WithFields(logrus.Fields{"channel": frame.Channel, "type": uint8(frame.Type)}).
				Debug("skipping unknown message type")
			continue
		}

		if err := s.dispatch(ctx, frame); err != nil {
			_ = s.Close()
			if errors.Is(err, errDone) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, frame wire.Frame) error {
	msg, err := s.codec.Decode(frame.Type, frame.Payload)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownMessageType) {
			s.metrics.UnknownMessages.Inc()
			return nil
		}
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	s.mu.Lock()
	post, err := s.handleLocked(ctx, frame.Channel, msg)
	s.mu.Unlock()

	// Callbacks run on their own goroutine so they may call back into
	// the session, even with blocking calls, without stalling reads.
	if post != nil {
		s.callbacks.enqueue(post)
	}
	return err
}

// handleLocked advances the state machine for one message. It returns a
// callback to run after the lock is released.
func (s *Session) handleLocked(ctx context.Context, channelID uint8, msg wire.Message) (func(), error) {
	ch := s.channels[channelID]
	log := s.logger.WithFields(logrus.Fields{"channel": channelID, "message": msg.Type().String()})

	if !ch.open() {
		// The remote may open a channel before we do. Park its traffic
		// until our Open replays it.
		if len(ch.parked) >= maxParkedMessages {
			return nil, fmt.Errorf("%w: %d messages parked on unopened channel %d",
				ErrProtocolViolation, len(ch.parked), channelID)
		}
		ch.parked = append(ch.parked, msg)
		return nil, nil
	}

	switch m := msg.(type) {
	case *wire.Feed:
		return nil, s.handleFeed(ch, m)
	case *wire.Handshake:
		return nil, s.handleHandshake(ch, m)
	}

	if ch.state != stateActive {
		return nil, fmt.Errorf("%w: %s on channel %d in state %s",
			ErrProtocolViolation, msg.Type(), channelID, ch.state)
	}

	switch m := msg.(type) {
	case *wire.Info:
		return nil, s.handleInfo(ch, m)
	case *wire.Have:
		return s.handleHave(ch, m)
	case *wire.Unhave:
		ch.applyUnhave(m.Start, m.Length)
		return nil, nil
	case *wire.Want:
		return nil, s.handleWant(ch, m)
	case *wire.Unwant:
		wants, ok := removeWant(ch.remoteWants, m.Start)
		if !ok {
			return nil, fmt.Errorf("%w: unwant for never-wanted range %d", ErrProtocolViolation, m.Start)
		}
		ch.remoteWants = wants
		return nil, nil
	case *wire.Request:
		return nil, s.handleRequest(ctx, ch, m, log)
	case *wire.Cancel:
		// A no-op when the request already resolved: cancellation is
		// racy by nature.
		delete(ch.inbound, requestKey{index: m.Index, bytes: m.Bytes, hash: m.Hash})
		return nil, nil
	case *wire.Data:
		return s.handleData(ctx, ch, m, log)
	case *wire.Extension:
		return s.handleExtension(channelID, m, log), nil
	}
	return nil, fmt.Errorf("%w: unhandled message %T", ErrProtocolViolation, msg)
}

func (s *Session) handleFeed(ch *channel, m *wire.Feed) error {
	if ch.state != stateAwaitFeed {
		return fmt.Errorf("%w: duplicate feed on channel %d", ErrProtocolViolation, ch.id)
	}
	if !bytes.Equal(m.DiscoveryKey, ch.discoveryKey) {
		return fmt.Errorf("%w: channel %d", ErrKeyMismatch, ch.id)
	}
	if ch.id == wire.ChannelMetadata {
		ch.state = stateAwaitHandshake
	} else {
		ch.state = stateActive
	}
	return nil
}

func (s *Session) handleHandshake(ch *channel, m *wire.Handshake) error {
	if ch.id != wire.ChannelMetadata || ch.state != stateAwaitHandshake {
		return fmt.Errorf("%w: handshake on channel %d in state %s", ErrProtocolViolation, ch.id, ch.state)
	}
	s.remoteHandshake = m
	s.remoteLive = m.Live
	ch.state = stateActive
	s.logger.WithFields(logrus.Fields{
		"peer_id":    fmt.Sprintf("%x", m.ID),
		"live":       m.Live,
		"extensions": m.Extensions,
	}).Debug("handshake complete")
	return nil
}

func (s *Session) handleInfo(ch *channel, m *wire.Info) error {
	if m.Uploading != nil {
		ch.remoteUploading = *m.Uploading
	}
	if m.Downloading != nil {
		ch.remoteDownloading = *m.Downloading
	}
	return s.maybeFinishLocked()
}

func (s *Session) handleHave(ch *channel, m *wire.Have) (func(), error) {
	if !ch.wantedLocally(m.Start) {
		return nil, fmt.Errorf("%w: unsolicited have at %d", ErrProtocolViolation, m.Start)
	}

	length := m.Length
	var pattern *bitfield.BitVector
	if len(m.Bitfield) > 0 {
		decoded, err := bitfield.Decode(m.Bitfield)
		if err != nil {
			return nil, err // fatal: malformed bitfield
		}
		pattern = decoded
		length = uint64(decoded.Len())
	}
	ch.applyHave(m.Start, length, pattern)

	if cb := ch.cfg.OnHave; cb != nil {
		start := m.Start
		return func() { cb(start, length) }, nil
	}
	return nil, nil
}

// handleWant records the range and answers with what we already have in
// it, so the remote can start requesting immediately.
func (s *Session) handleWant(ch *channel, m *wire.Want) error {
	ch.remoteWants = append(ch.remoteWants, wantRange{start: m.Start, length: m.Length})

	// Open-ended wants are bounded by our current length, re-announced
	// as the log grows.
	end := ch.cfg.Store.Length()
	if m.Length > 0 && m.Start+m.Length < end {
		end = m.Start + m.Length
	}
	if end <= m.Start {
		return nil
	}

	have := bitfield.New(int(end - m.Start))
	any := false
	contiguous := true
	for i := m.Start; i < end; i++ {
		ok, err := ch.cfg.Store.Has(i)
		if err != nil {
			return fmt.Errorf("store has %d: %w", i, err)
		}
		if ok {
			have.Set(int(i-m.Start), true)
			any = true
		} else {
			contiguous = false
		}
	}
	if !any {
		return nil
	}
	if contiguous {
		return s.send(ch.id, &wire.Have{Start: m.Start, Length: end - m.Start})
	}
	return s.send(ch.id, &wire.Have{Start: m.Start, Length: 1, Bitfield: bitfield.Encode(have)})
}

func (s *Session) handleRequest(ctx context.Context, ch *channel, m *wire.Request, log *logrus.Entry) error {
	key := requestKey{index: m.Index, bytes: m.Bytes, hash: m.Hash}
	ok, err := ch.cfg.Store.Has(m.Index)
	if err != nil {
		return fmt.Errorf("store has %d: %w", m.Index, err)
	}
	if !ok {
		// Not here yet; served when the chunk arrives, dropped on
		// Cancel or teardown.
		ch.inbound[key] = &pendingRequest{key: key, ancestors: m.Nodes, created: time.Now()}
		return nil
	}
	if err := s.serveLocked(ctx, ch, key, m.Nodes); err != nil {
		log.WithError(err).Debug("cannot serve request")
	}
	return nil
}

// serveLocked answers one request from local storage. While uploads are
// paused the request is held instead; SetUploading(true) flushes it.
func (s *Session) serveLocked(ctx context.Context, ch *channel, key requestKey, ancestors merkle.AncestorSet) error {
	if !ch.localUploading {
		ch.inbound[key] = &pendingRequest{key: key, ancestors: ancestors, created: time.Now()}
		return nil
	}
	nodes, signature, err := ch.builder.Proof(key.index, ancestors)
	if err != nil {
		return fmt.Errorf("build proof %d: %w", key.index, err)
	}
	data := &wire.Data{Index: key.index, Nodes: nodes, Signature: signature}
	if !key.hash {
		value, err := ch.cfg.Store.Data(ctx, key.index)
		if err != nil {
			return fmt.Errorf("read chunk %d: %w", key.index, err)
		}
		data.Value = value
	}
	delete(ch.inbound, key)
	if err := s.send(ch.id, data); err != nil {
		return err
	}
	s.metrics.ChunksSent.Inc()
	return nil
}

func (s *Session) handleData(ctx context.Context, ch *channel, m *wire.Data, log *logrus.Entry) (func(), error) {
	// Resolve pending requests first: a Data crossing a Cancel, or one
	// we never asked for, is a normal gift, never an error.
	resolved := ch.resolveOutbound(m.Index)
	for range resolved {
		<-ch.inflight
	}
	s.metrics.PendingRequests.Sub(float64(len(resolved)))

	var (
		newly []merkle.Node
		err   error
	)
	if len(m.Value) > 0 {
		newly, err = ch.verifier.Verify(m.Index, m.Value, m.Nodes, m.Signature)
	} else {
		newly, err = ch.verifier.VerifyNodes(m.Nodes, m.Signature)
	}
	if err != nil {
		s.metrics.ProofFailures.Inc()
		log.WithError(err).WithField("index", m.Index).Info("discarding unverifiable data")
		if cb := ch.cfg.OnInvalidData; cb != nil {
			index := m.Index
			return func() { cb(index, err) }, nil
		}
		return nil, nil
	}

	if len(m.Value) > 0 {
		if err := ch.cfg.Store.Put(ctx, m.Index, m.Value, newly); err != nil {
			return nil, fmt.Errorf("store put %d: %w", m.Index, err)
		}
	}
	s.metrics.ChunksReceived.Inc()

	if cb := ch.cfg.OnData; cb != nil {
		index, value := m.Index, m.Value
		return func() { cb(index, value) }, nil
	}
	return nil, nil
}

func (s *Session) handleExtension(channelID uint8, m *wire.Extension, log *logrus.Entry) func() {
	if hs := s.remoteHandshake; hs != nil && len(hs.Extensions) > 0 && m.UserType >= uint64(len(hs.Extensions)) {
		log.WithField("user_type", m.UserType).Debug("extension type never announced, dropping")
		return nil
	}
	h, ok := s.extensions[m.UserType]
	if !ok {
		log.WithField("user_type", m.UserType).Debug("no handler for extension, dropping")
		return nil
	}
	payload := m.Payload
	return func() { h(channelID, payload) }
}

// maybeFinishLocked closes the session once every open channel reports
// both sides done downloading and nobody is live.
func (s *Session) maybeFinishLocked() error {
	for _, ch := range s.channels {
		if !ch.open() {
			continue
		}
		if !ch.drained(s.opts.Live, s.remoteLive) {
			return nil
		}
	}
	return errDone
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down: every channel moves to Closed, pending
// requests in both directions are discarded, a farewell Info goes out on
// each channel that was still active, and the stream is closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var farewell []uint8
	for _, ch := range s.channels {
		if ch.state == stateActive {
			farewell = append(farewell, ch.id)
		}
		ch.state = stateClosed
		ch.discardPending()
		ch.remoteHave = &bitfield.IndexSet{}
		ch.remoteWants = nil
		ch.localWants = nil
	}
	close(s.done)
	s.callbacks.stop()
	s.mu.Unlock()

	var result *multierror.Error
	for _, id := range farewell {
		err := s.send(id, &wire.Info{Uploading: wire.Bool(false), Downloading: wire.Bool(false)})
		if err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.EOF) {
			// A peer that tore down first is a normal shutdown crossing,
			// not a reportable failure.
			result = multierror.Append(result, fmt.Errorf("farewell channel %d: %w", id, err))
		}
	}
	if err := s.stream.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Session) send(channel uint8, m wire.Message) error {
	payload, err := s.codec.Encode(m)
	if err != nil {
		return err
	}
	if err := s.writer.WriteFrame(channel, m.Type(), payload); err != nil {
		return err
	}
	s.metrics.FramesOut.Inc()
	return nil
}
