// Package call implements the one-call-at-a-time session state machine.
// All signaling travels through the relay pool as encrypted call
// payloads; the media path is a WebRTC peer connection.
package call

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var (
	ErrBusy         = errors.New("another call is active")
	ErrNotRinging   = errors.New("no incoming call to answer")
	ErrNoActiveCall = errors.New("no active call")
	ErrMediaFailed  = errors.New("media capture failed")
)

// State is the call session state
type State string

const (
	StateIdle       State = "idle"
	StateCalling    State = "calling"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// Timer constants
const (
	requestRetryInterval = 3 * time.Second
	callerTimeout        = 40 * time.Second
	ringingTimeout       = 45 * time.Second
	disconnectGrace      = 7 * time.Second
)

// SignalFunc delivers one call payload to a peer through the relays
type SignalFunc func(peer string, payload *protocol.Payload) error

// MediaSource captures local tracks. Capture errors carry the classified
// device-access reason shown to the user.
type MediaSource interface {
	Capture(media string) ([]webrtc.TrackLocal, error)
	// SetMuted pauses or resumes the captured microphone track
	SetMuted(muted bool)
	// SetVideoEnabled pauses or resumes the captured camera track
	SetVideoEnabled(enabled bool)
	Release()
}

// peerConnection is the slice of *webrtc.PeerConnection the session
// drives, separated so the state machine is testable without media
// devices or a network
type peerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnTrack(fn func(*webrtc.TrackRemote))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

// Session is the call state machine. One session serves the whole
// client; a second concurrent call is auto-rejected.
type Session struct {
	mu sync.Mutex

	state     State
	remote    string
	callID    string
	media     string
	initiator bool
	startTime time.Time
	muted     bool
	videoOff  bool

	pc             peerConnection
	capturedTracks []webrtc.TrackLocal
	remoteDescSet  bool
	// Candidates that arrive before the remote description, flushed in
	// arrival order once it is set
	pendingCandidates []webrtc.ICECandidateInit

	retryTimer   *time.Timer
	timeoutTimer *time.Timer
	graceTimer   *time.Timer

	signal  SignalFunc
	source  MediaSource
	onState func(state State, reason string)
	onTrack func(track *webrtc.TrackRemote)

	// newPC builds the transport; swapped by tests
	newPC func() (peerConnection, error)
}

// Config wires a session to its collaborators
type Config struct {
	Signal     SignalFunc
	Media      MediaSource
	OnState    func(state State, reason string)
	OnTrack    func(track *webrtc.TrackRemote)
	ICEServers []webrtc.ICEServer
}

// NewSession creates an idle call session
func NewSession(cfg Config) *Session {
	s := &Session{
		state:   StateIdle,
		signal:  cfg.Signal,
		source:  cfg.Media,
		onState: cfg.OnState,
		onTrack: cfg.OnTrack,
	}
	s.newPC = func() (peerConnection, error) {
		return newPionConnection(cfg.ICEServers)
	}
	return s
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remote returns the tracked peer, empty when idle
func (s *Session) Remote() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// SetMuted toggles the captured microphone while a call is in flight
func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	s.muted = muted
	s.mu.Unlock()

	s.source.SetMuted(muted)
	return nil
}

// SetVideoEnabled toggles the captured camera while a call is in flight
func (s *Session) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	s.videoOff = !enabled
	s.mu.Unlock()

	s.source.SetVideoEnabled(enabled)
	return nil
}

// Muted reports whether the local microphone is muted
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// VideoEnabled reports whether the local camera is live
func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.videoOff
}

// Duration returns the elapsed connected time, zero before connection
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// Initiate starts an outbound call. Media is captured before anything is
// sent so that connection setup adds no latency once the peer accepts;
// if capture fails the call never leaves idle.
func (s *Session) Initiate(peer, media string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	tracks, err := s.source.Capture(media)
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Re-check: another callback may have raced us past idle
	if s.state != StateIdle {
		s.mu.Unlock()
		s.source.Release()
		return ErrBusy
	}

	s.state = StateCalling
	s.remote = peer
	s.callID = uuid.NewString()
	s.media = media
	s.initiator = true
	s.capturedTracks = tracks

	callID := s.callID
	s.armRetryLocked(peer, callID, media)
	s.timeoutTimer = time.AfterFunc(callerTimeout, func() {
		s.expire(callID, "no answer")
	})
	s.mu.Unlock()

	s.notify(StateCalling, "")
	return s.sendSignal(peer, protocol.PayloadCallRequest, &protocol.CallSignal{
		CallID: callID, Media: media,
	})
}

// armRetryLocked resends the call request every few seconds until the
// state moves past calling
func (s *Session) armRetryLocked(peer, callID, media string) {
	s.retryTimer = time.AfterFunc(requestRetryInterval, func() {
		s.mu.Lock()
		live := s.state == StateCalling && s.callID == callID
		if live {
			s.armRetryLocked(peer, callID, media)
		}
		s.mu.Unlock()

		if live {
			s.sendSignal(peer, protocol.PayloadCallRequest, &protocol.CallSignal{
				CallID: callID, Media: media,
			})
		}
	})
}

// expire fires from the caller/ringing timeout timers
func (s *Session) expire(callID, reason string) {
	s.mu.Lock()
	if s.callID != callID || (s.state != StateCalling && s.state != StateRinging) {
		s.mu.Unlock()
		return
	}
	wasRinging := s.state == StateRinging
	peer := s.remote
	s.teardownLocked()
	s.mu.Unlock()

	// An unanswered ring tells the caller it was never picked up
	if wasRinging {
		s.sendSignal(peer, protocol.PayloadCallReject, &protocol.CallSignal{
			CallID: callID, Reason: reason,
		})
	}
	s.notify(StateIdle, reason)
}

// Accept answers the ringing inbound call. Media capture failure rejects
// the call and reports the classified reason.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return ErrNotRinging
	}
	peer, callID, media := s.remote, s.callID, s.media
	s.mu.Unlock()

	tracks, err := s.source.Capture(media)
	if err != nil {
		s.sendSignal(peer, protocol.PayloadCallReject, &protocol.CallSignal{
			CallID: callID, Reason: "media unavailable",
		})
		s.mu.Lock()
		if s.state == StateRinging && s.callID == callID {
			s.teardownLocked()
		}
		s.mu.Unlock()
		s.notify(StateIdle, err.Error())
		return err
	}

	s.mu.Lock()
	if s.state != StateRinging || s.callID != callID {
		s.mu.Unlock()
		s.source.Release()
		return ErrNotRinging
	}
	s.cancelTimersLocked()
	s.state = StateConnecting
	s.capturedTracks = tracks

	// Answerer: the peer connection is built now and waits for the offer
	if err := s.buildPeerConnectionLocked(); err != nil {
		s.teardownLocked()
		s.mu.Unlock()
		s.notify(StateIdle, "connection setup failed")
		return err
	}
	s.mu.Unlock()

	s.notify(StateConnecting, "")
	return s.sendSignal(peer, protocol.PayloadCallAccept, &protocol.CallSignal{CallID: callID})
}

// Reject declines the ringing inbound call
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return ErrNotRinging
	}
	peer, callID := s.remote, s.callID
	s.teardownLocked()
	s.mu.Unlock()

	s.notify(StateIdle, "rejected")
	return s.sendSignal(peer, protocol.PayloadCallReject, &protocol.CallSignal{CallID: callID})
}

// End hangs up from any non-idle state. Local cleanup is synchronous;
// notifying the peer is best effort and never blocks it.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	peer, callID := s.remote, s.callID
	s.teardownLocked()
	s.mu.Unlock()

	s.notify(StateIdle, "ended")
	go s.sendSignal(peer, protocol.PayloadCallEnd, &protocol.CallSignal{CallID: callID})
}

// HandleSignal consumes one inbound call payload. Signals from peers
// other than the tracked remote are ignored, except a fresh call request
// while idle.
func (s *Session) HandleSignal(from string, p *protocol.Payload) {
	if p.Call == nil || p.Call.CallID == "" {
		return
	}

	switch p.Type {
	case protocol.PayloadCallRequest:
		s.handleRequest(from, p.Call)
	case protocol.PayloadCallAccept:
		s.handleAccept(from, p.Call)
	case protocol.PayloadCallReject:
		s.handleReject(from, p.Call)
	case protocol.PayloadCallEnd:
		s.handleEnd(from, p.Call)
	case protocol.PayloadCallOffer:
		s.handleOffer(from, p.Call)
	case protocol.PayloadCallAnswer:
		s.handleAnswer(from, p.Call)
	case protocol.PayloadCallICE:
		s.handleICE(from, p.Call)
	}
}

func (s *Session) handleRequest(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if s.state != StateIdle {
		// Repeated request for the live call is the caller's retry timer
		if s.callID == sig.CallID && s.remote == from {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		// Busy: auto-reject without touching the active session
		s.sendSignal(from, protocol.PayloadCallReject, &protocol.CallSignal{
			CallID: sig.CallID, Reason: "busy",
		})
		return
	}

	s.state = StateRinging
	s.remote = from
	s.callID = sig.CallID
	s.media = sig.Media
	s.initiator = false
	callID := sig.CallID
	s.timeoutTimer = time.AfterFunc(ringingTimeout, func() {
		s.expire(callID, "missed call")
	})
	s.mu.Unlock()

	s.notify(StateRinging, "")
}

func (s *Session) handleAccept(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if s.state != StateCalling || from != s.remote || sig.CallID != s.callID {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	s.state = StateConnecting

	if err := s.buildPeerConnectionLocked(); err != nil {
		s.teardownLocked()
		s.mu.Unlock()
		s.notify(StateIdle, "connection setup failed")
		return
	}
	pc := s.pc
	peer, callID := s.remote, s.callID
	s.mu.Unlock()

	s.notify(StateConnecting, "")

	// Offerer side of the SDP exchange
	offer, err := pc.CreateOffer(false)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		log.Printf("Call %s: offer failed: %v", callID, err)
		s.End()
		return
	}
	s.sendSignal(peer, protocol.PayloadCallOffer, &protocol.CallSignal{
		CallID: callID, SDP: offer.SDP,
	})
}

func (s *Session) handleReject(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if s.state != StateCalling || from != s.remote || sig.CallID != s.callID {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	reason := sig.Reason
	if reason == "" {
		reason = "call rejected"
	}
	s.notify(StateIdle, reason)
}

func (s *Session) handleEnd(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if s.state == StateIdle || from != s.remote || sig.CallID != s.callID {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	s.notify(StateIdle, "peer ended the call")
}

func (s *Session) handleOffer(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if (s.state != StateConnecting && s.state != StateConnected) ||
		from != s.remote || sig.CallID != s.callID || s.initiator || s.pc == nil {
		s.mu.Unlock()
		return
	}
	pc := s.pc
	peer, callID := s.remote, s.callID
	s.mu.Unlock()

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sig.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("Call %s: applying offer failed: %v", callID, err)
		return
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer()
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		log.Printf("Call %s: answer failed: %v", callID, err)
		s.End()
		return
	}
	s.sendSignal(peer, protocol.PayloadCallAnswer, &protocol.CallSignal{
		CallID: callID, SDP: answer.SDP,
	})
}

func (s *Session) handleAnswer(from string, sig *protocol.CallSignal) {
	s.mu.Lock()
	if (s.state != StateConnecting && s.state != StateConnected) ||
		from != s.remote || sig.CallID != s.callID || !s.initiator || s.pc == nil {
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Printf("Call %s: applying answer failed: %v", sig.CallID, err)
		return
	}
	s.flushCandidates(pc)
}

func (s *Session) handleICE(from string, sig *protocol.CallSignal) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(sig.Candidate), &candidate); err != nil {
		return
	}

	s.mu.Lock()
	if from != s.remote || sig.CallID != s.callID || s.pc == nil {
		s.mu.Unlock()
		return
	}
	if !s.remoteDescSet {
		// Queue until the remote description exists, flushed in order
		s.pendingCandidates = append(s.pendingCandidates, candidate)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		log.Printf("Call %s: adding ICE candidate failed: %v", sig.CallID, err)
	}
}

// flushCandidates marks the remote description set and applies queued
// candidates in arrival order
func (s *Session) flushCandidates(pc peerConnection) {
	s.mu.Lock()
	s.remoteDescSet = true
	queued := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()

	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			log.Printf("Flushing queued ICE candidate failed: %v", err)
		}
	}
}

// buildPeerConnectionLocked creates the transport, attaches captured
// tracks, and wires ICE/track/state callbacks. Caller holds s.mu.
func (s *Session) buildPeerConnectionLocked() error {
	pc, err := s.newPC()
	if err != nil {
		return err
	}

	for _, track := range s.capturedTracks {
		if err := pc.AddTrack(track); err != nil {
			pc.Close()
			return err
		}
	}

	peer, callID := s.remote, s.callID

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		s.sendSignal(peer, protocol.PayloadCallICE, &protocol.CallSignal{
			CallID: callID, Candidate: string(raw),
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote) {
		if s.onTrack != nil {
			s.onTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleTransportState(callID, state)
	})

	s.pc = pc
	s.remoteDescSet = false
	s.pendingCandidates = nil
	return nil
}

// handleTransportState reacts to the WebRTC transport lifecycle
func (s *Session) handleTransportState(callID string, state webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.callID != callID || s.state == StateIdle {
		s.mu.Unlock()
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
		if s.state != StateConnected {
			s.state = StateConnected
			s.startTime = time.Now()
			s.mu.Unlock()
			s.notify(StateConnected, "")
			return
		}

	case webrtc.PeerConnectionStateDisconnected:
		// Tolerate a short blip before treating it as a drop
		if s.graceTimer == nil {
			s.graceTimer = time.AfterFunc(disconnectGrace, func() {
				s.dropIfStale(callID)
			})
		}

	case webrtc.PeerConnectionStateFailed:
		if s.initiator && s.pc != nil {
			pc := s.pc
			peer := s.remote
			s.mu.Unlock()
			s.restartICE(pc, peer, callID)
			return
		}
		s.teardownLocked()
		s.mu.Unlock()
		s.notify(StateIdle, "connection failed")
		return
	}
	s.mu.Unlock()
}

// dropIfStale ends the call if the transport never recovered within the
// grace window
func (s *Session) dropIfStale(callID string) {
	s.mu.Lock()
	if s.callID != callID || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	s.notify(StateIdle, "connection lost")
}

// restartICE renegotiates from the initiating side after a transport
// failure
func (s *Session) restartICE(pc peerConnection, peer, callID string) {
	log.Printf("Call %s: transport failed, restarting ICE", callID)

	offer, err := pc.CreateOffer(true)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		log.Printf("Call %s: ICE restart failed: %v", callID, err)
		s.End()
		return
	}

	s.mu.Lock()
	s.remoteDescSet = false
	s.mu.Unlock()

	s.sendSignal(peer, protocol.PayloadCallOffer, &protocol.CallSignal{
		CallID: callID, SDP: offer.SDP,
	})
}

// teardownLocked releases everything a call holds: timers, local media,
// the peer connection, and the tracked peer. Caller holds s.mu.
func (s *Session) teardownLocked() {
	s.cancelTimersLocked()

	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	s.source.Release()

	s.state = StateIdle
	s.remote = ""
	s.callID = ""
	s.media = ""
	s.initiator = false
	s.startTime = time.Time{}
	s.muted = false
	s.videoOff = false
	s.remoteDescSet = false
	s.pendingCandidates = nil
	s.capturedTracks = nil
}

// cancelTimersLocked stops every armed timer so nothing stale fires
// after the state has moved on. Caller holds s.mu.
func (s *Session) cancelTimersLocked() {
	for _, timer := range []**time.Timer{&s.retryTimer, &s.timeoutTimer, &s.graceTimer} {
		if *timer != nil {
			(*timer).Stop()
			*timer = nil
		}
	}
}

func (s *Session) notify(state State, reason string) {
	if s.onState != nil {
		s.onState(state, reason)
	}
}

func (s *Session) sendSignal(peer, payloadType string, sig *protocol.CallSignal) error {
	err := s.signal(peer, &protocol.Payload{Type: payloadType, Call: sig})
	if err != nil {
		log.Printf("Call signal %s to %s failed: %v", payloadType, peer, err)
	}
	return err
}
