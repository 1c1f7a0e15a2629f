package client

import (
	"encoding/json"
	"errors"
	"sync"
)

// SignalKind tags the payload carried inside a signal event. The server
// never looks inside; this is a convention between clients
type SignalKind string

const (
	KindOffer     SignalKind = "offer"
	KindAnswer    SignalKind = "answer"
	KindCandidate SignalKind = "candidate"
)

// Signal is the payload of a signal event
type Signal struct {
	Kind      SignalKind      `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// PeerState follows the signaling states of a browser peer connection
type PeerState string

const (
	StateStable          PeerState = "stable"
	StateHaveLocalOffer  PeerState = "have-local-offer"
	StateHaveRemoteOffer PeerState = "have-remote-offer"
	StateClosed          PeerState = "closed"
)

var (
	ErrPeerClosed      = errors.New("peer connection is closed")
	ErrInvalidState    = errors.New("operation not valid in current signaling state")
	ErrUnknownSignal   = errors.New("unknown signal kind")
	ErrMalformedSignal = errors.New("malformed signal payload")
)

// Peer is one side of a negotiated connection with a remote member.
// Offer collisions are settled perfect-negotiation style: the polite side
// rolls back its own offer, the impolite side ignores the incoming one
type Peer struct {
	mu         sync.Mutex
	remote     string
	polite     bool
	state      PeerState
	localSDP   string
	remoteSDP  string
	hasRemote  bool
	pending    []json.RawMessage
	candidates []json.RawMessage
}

// NewPeer creates a peer; the side with the greater connection id is polite
func NewPeer(localID, remoteID string) *Peer {
	return &Peer{remote: remoteID, polite: localID > remoteID, state: StateStable}
}

func (p *Peer) Remote() string { return p.remote }
func (p *Peer) Polite() bool   { return p.polite }

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Candidates returns the remote candidates applied so far
func (p *Peer) Candidates() []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.candidates...)
}

// Pending is the number of candidates waiting for a remote description
func (p *Peer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RemoteDescription returns the last offer or answer received
func (p *Peer) RemoteDescription() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSDP
}

// Offer starts a negotiation with sdp as the local description
func (p *Peer) Offer(sdp string) (Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateClosed:
		return Signal{}, ErrPeerClosed
	case StateStable:
	default:
		return Signal{}, ErrInvalidState
	}
	p.state = StateHaveLocalOffer
	p.localSDP = sdp
	return Signal{Kind: KindOffer, SDP: sdp}, nil
}

// Answer accepts the pending remote offer with sdp as the local description
func (p *Peer) Answer(sdp string) (Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateClosed:
		return Signal{}, ErrPeerClosed
	case StateHaveRemoteOffer:
	default:
		return Signal{}, ErrInvalidState
	}
	p.state = StateStable
	p.localSDP = sdp
	return Signal{Kind: KindAnswer, SDP: sdp}, nil
}

// Candidate wraps a local ICE candidate for sending
func (p *Peer) Candidate(c json.RawMessage) (Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return Signal{}, ErrPeerClosed
	}
	return Signal{Kind: KindCandidate, Candidate: c}, nil
}

// Handle applies a signal from the remote side. It reports false when an
// offer was ignored because of a collision on the impolite side
func (p *Peer) Handle(s Signal) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return false, ErrPeerClosed
	}

	switch s.Kind {
	case KindOffer:
		if p.state == StateHaveLocalOffer {
			if !p.polite {
				return false, nil
			}
			p.localSDP = ""
		}
		p.state = StateHaveRemoteOffer
		p.setRemote(s.SDP)
	case KindAnswer:
		if p.state != StateHaveLocalOffer {
			return false, ErrInvalidState
		}
		p.state = StateStable
		p.setRemote(s.SDP)
	case KindCandidate:
		if len(s.Candidate) == 0 {
			return false, ErrMalformedSignal
		}
		if p.hasRemote {
			p.candidates = append(p.candidates, s.Candidate)
		} else {
			p.pending = append(p.pending, s.Candidate)
		}
	default:
		return false, ErrUnknownSignal
	}
	return true, nil
}

// setRemote records a remote description and releases buffered candidates
func (p *Peer) setRemote(sdp string) {
	p.remoteSDP = sdp
	p.hasRemote = true
	p.candidates = append(p.candidates, p.pending...)
	p.pending = nil
}

// Close ends the peer; further signals fail with ErrPeerClosed
func (p *Peer) Close() {
	p.mu.Lock()
	p.state = StateClosed
	p.pending = nil
	p.mu.Unlock()
}
