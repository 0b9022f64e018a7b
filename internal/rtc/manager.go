// Package rtc is the client-side call engine: it owns the local media
// tracks and one negotiated PeerConnection per remote participant,
// driven by the signaling events the hub relays between call rooms.
package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sethvargo/go-retry"
)

// PeerState tracks the lifecycle of one remote connection.
type PeerState string

const (
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerFailed       PeerState = "failed"
	PeerDisconnected PeerState = "disconnected"
	PeerClosed       PeerState = "closed"
)

// Renegotiation backoff. A failed connection is retried at most
// maxRenegotiations times before the peer is given up until the user
// ends or restarts the call.
const (
	maxRenegotiations  = 5
	renegotiateBackoff = 500 * time.Millisecond
	renegotiateJitter  = 100 * time.Millisecond
)

// Signaler carries negotiation payloads to the other call participants.
// The production implementation writes offer/answer/ice-candidate
// events onto the hub websocket; tests use an in-process exchange.
type Signaler interface {
	SendOffer(ctx context.Context, roomID string, peerID uuid.UUID, sdp webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, roomID string, peerID uuid.UUID, sdp webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, roomID string, peerID uuid.UUID, candidate webrtc.ICECandidateInit) error
}

// Manager owns one active call: the local audio track, an optional
// screen-share track, and one PeerConnection per remote participant
// keyed by user id. All methods are safe for concurrent use.
type Manager struct {
	roomID   string
	signaler Signaler
	logger   *slog.Logger

	iceServers []string

	// onWarning surfaces connection trouble to the user interface.
	// Called from pion callback goroutines, never with locks held.
	onWarning func(peerID uuid.UUID, message string)

	audio *webrtc.TrackLocalStaticSample

	// muted gates WriteAudioSample; flipping it does not touch the
	// peer connections, so mute/unmute never renegotiates.
	muted atomic.Bool

	mu     sync.Mutex
	peers  map[uuid.UUID]*peer
	screen *webrtc.TrackLocalStaticSample
	closed bool
}

// peer is the state for one remote participant. Fields are protected
// by Manager.mu except where noted.
type peer struct {
	id uuid.UUID
	pc *webrtc.PeerConnection

	// videoSender is set once a screen-share track has been attached;
	// later shares replace the track on the same sender.
	videoSender *webrtc.RTPSender

	state PeerState

	// retryCancel stops an in-flight renegotiation loop.
	retryCancel context.CancelFunc
}

// New creates a manager for one call room. The audio track exists for
// the whole call; peers attach to it as they are added.
func New(roomID string, signaler Signaler, iceServers []string, onWarning func(uuid.UUID, string), logger *slog.Logger) (*Manager, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "voice-chat-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("creating audio track: %w", err)
	}

	if onWarning == nil {
		onWarning = func(uuid.UUID, string) {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		roomID:     roomID,
		signaler:   signaler,
		logger:     logger,
		iceServers: iceServers,
		onWarning:  onWarning,
		audio:      audio,
		peers:      make(map[uuid.UUID]*peer),
	}, nil
}

// AddPeer establishes a connection to a new participant by sending the
// initial offer. Adding an already-known peer is a no-op.
func (m *Manager) AddPeer(ctx context.Context, peerID uuid.UUID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("call already ended")
	}
	if _, ok := m.peers[peerID]; ok {
		m.mu.Unlock()
		return nil
	}
	p, err := m.newPeerLocked(peerID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	return m.offerTo(ctx, p, nil)
}

// newPeerLocked creates and registers the PeerConnection for peerID.
// Caller holds m.mu.
func (m *Manager) newPeerLocked(peerID uuid.UUID) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(m.config())
	if err != nil {
		return nil, fmt.Errorf("creating peer connection for %s: %w", peerID, err)
	}

	if _, err := pc.AddTrack(m.audio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("attaching audio track for %s: %w", peerID, err)
	}

	p := &peer{id: peerID, pc: pc, state: PeerConnecting}

	if m.screen != nil {
		sender, err := pc.AddTrack(m.screen)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("attaching screen track for %s: %w", peerID, err)
		}
		p.videoSender = sender
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signaler.SendCandidate(context.Background(), m.roomID, peerID, c.ToJSON()); err != nil {
			m.logger.Warn("sending ICE candidate", "peer", peerID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleStateChange(p, state)
	})

	m.peers[peerID] = p
	return p, nil
}

func (m *Manager) config() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(m.iceServers))
	for _, url := range m.iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// offerTo creates a fresh offer for one peer and hands it to the
// signaler. Recovery paths must pass ICERestart so the offer carries
// new ICE credentials; reusing the failed session's credentials makes
// the re-offer a no-op.
func (m *Manager) offerTo(ctx context.Context, p *peer, opts *webrtc.OfferOptions) error {
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("creating offer for %s: %w", p.id, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description for %s: %w", p.id, err)
	}
	if err := m.signaler.SendOffer(ctx, m.roomID, p.id, offer); err != nil {
		return fmt.Errorf("sending offer to %s: %w", p.id, err)
	}
	return nil
}

// HandleOffer answers an incoming negotiation offer, creating the
// peer connection on first contact.
func (m *Manager) HandleOffer(ctx context.Context, peerID uuid.UUID, sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("call already ended")
	}
	p, ok := m.peers[peerID]
	if !ok {
		var err error
		p, err = m.newPeerLocked(peerID)
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("setting remote offer from %s: %w", peerID, err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer for %s: %w", peerID, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local answer for %s: %w", peerID, err)
	}
	if err := m.signaler.SendAnswer(ctx, m.roomID, peerID, answer); err != nil {
		return fmt.Errorf("sending answer to %s: %w", peerID, err)
	}
	return nil
}

// HandleAnswer completes a negotiation this side started.
func (m *Manager) HandleAnswer(peerID uuid.UUID, sdp webrtc.SessionDescription) error {
	p, ok := m.lookup(peerID)
	if !ok {
		return fmt.Errorf("answer from unknown peer %s", peerID)
	}
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("setting remote answer from %s: %w", peerID, err)
	}
	return nil
}

// HandleCandidate adds a trickled ICE candidate from a peer.
func (m *Manager) HandleCandidate(peerID uuid.UUID, candidate webrtc.ICECandidateInit) error {
	p, ok := m.lookup(peerID)
	if !ok {
		return fmt.Errorf("candidate from unknown peer %s", peerID)
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding candidate from %s: %w", peerID, err)
	}
	return nil
}

func (m *Manager) lookup(peerID uuid.UUID) (*peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	return p, ok
}

// handleStateChange runs on pion's callback goroutine. A terminal
// state surfaces a warning and kicks off a bounded renegotiation.
func (m *Manager) handleStateChange(p *peer, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.setState(p, PeerConnected)
	case webrtc.PeerConnectionStateFailed:
		m.setState(p, PeerFailed)
		m.onWarning(p.id, "connection failed, reconnecting")
		m.renegotiate(p)
	case webrtc.PeerConnectionStateDisconnected:
		m.setState(p, PeerDisconnected)
		m.onWarning(p.id, "connection lost, reconnecting")
		m.renegotiate(p)
	case webrtc.PeerConnectionStateClosed:
		m.setState(p, PeerClosed)
	}
}

func (m *Manager) setState(p *peer, s PeerState) {
	m.mu.Lock()
	p.state = s
	m.mu.Unlock()
	m.logger.Info("peer state changed", "peer", p.id, "state", s)
}

// renegotiate re-offers to a troubled peer with jittered exponential
// backoff. At most maxRenegotiations attempts are made; after that the
// peer stays down until the user acts. Close cancels the loop.
func (m *Manager) renegotiate(p *peer) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if p.retryCancel != nil {
		// A retry loop for this peer is already running.
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.retryCancel = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			p.retryCancel = nil
			m.mu.Unlock()
		}()

		backoff := retry.WithMaxRetries(maxRenegotiations,
			retry.WithJitter(renegotiateJitter, retry.NewExponential(renegotiateBackoff)))

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			restart := &webrtc.OfferOptions{ICERestart: true}
			if err := m.offerTo(ctx, p, restart); err != nil {
				m.logger.Warn("renegotiation attempt failed", "peer", p.id, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			m.logger.Warn("renegotiation gave up", "peer", p.id, "error", err)
			m.onWarning(p.id, "could not reconnect")
		}
	}()
}

// Mute gates the local audio without touching any peer connection.
func (m *Manager) Mute(muted bool) {
	m.muted.Store(muted)
}

// Muted reports the current mute state.
func (m *Manager) Muted() bool {
	return m.muted.Load()
}

// WriteAudioSample pushes one captured audio sample to every peer.
// Samples are dropped while muted.
func (m *Manager) WriteAudioSample(sample media.Sample) error {
	if m.muted.Load() {
		return nil
	}
	return m.audio.WriteSample(sample)
}

// StartScreenShare attaches a video track to every existing peer
// connection, replacing the previous share when one is active. Peers
// that gained a brand-new sender are re-offered so the remote side
// learns about the added track.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "voice-chat-screen",
	)
	if err != nil {
		return fmt.Errorf("creating screen track: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("call already ended")
	}
	m.screen = track

	var added []*peer
	for _, p := range m.peers {
		if p.videoSender != nil {
			if err := p.videoSender.ReplaceTrack(track); err != nil {
				m.logger.Warn("replacing screen track", "peer", p.id, "error", err)
			}
			continue
		}
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			m.logger.Warn("attaching screen track", "peer", p.id, "error", err)
			continue
		}
		p.videoSender = sender
		added = append(added, p)
	}
	m.mu.Unlock()

	for _, p := range added {
		if err := m.offerTo(ctx, p, nil); err != nil {
			m.logger.Warn("renegotiating after screen share", "peer", p.id, "error", err)
		}
	}
	return nil
}

// StopScreenShare swaps the share for a placeholder track instead of
// removing the sender, so stopping never renegotiates.
func (m *Manager) StopScreenShare() error {
	placeholder, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "voice-chat-screen-idle",
	)
	if err != nil {
		return fmt.Errorf("creating placeholder track: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = nil
	for _, p := range m.peers {
		if p.videoSender == nil {
			continue
		}
		if err := p.videoSender.ReplaceTrack(placeholder); err != nil {
			m.logger.Warn("replacing with placeholder track", "peer", p.id, "error", err)
		}
	}
	return nil
}

// RemovePeer tears down the connection to one participant, for
// example when they leave the room.
func (m *Manager) RemovePeer(peerID uuid.UUID) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	var cancel context.CancelFunc
	if ok {
		delete(m.peers, peerID)
		cancel = p.retryCancel
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	if err := p.pc.Close(); err != nil {
		m.logger.Warn("closing peer connection", "peer", p.id, "error", err)
	}
}

// State reports the lifecycle state of one peer connection.
func (m *Manager) State(peerID uuid.UUID) (PeerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	if !ok {
		return "", false
	}
	return p.state, true
}

// Peers lists the user ids of all current participants.
func (m *Manager) Peers() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// Close ends the call: every retry loop is cancelled and every peer
// connection closed. The manager cannot be reused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	type teardown struct {
		p      *peer
		cancel context.CancelFunc
	}
	peers := make([]teardown, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, teardown{p: p, cancel: p.retryCancel})
	}
	m.peers = make(map[uuid.UUID]*peer)
	m.mu.Unlock()

	for _, t := range peers {
		if t.cancel != nil {
			t.cancel()
		}
		if err := t.p.pc.Close(); err != nil {
			m.logger.Warn("closing peer connection", "peer", t.p.id, "error", err)
		}
	}
	return nil
}
