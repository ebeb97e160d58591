package call

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is used when the configuration names none
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// pionConnection adapts *webrtc.PeerConnection to the peerConnection
// interface the session drives
type pionConnection struct {
	pc *webrtc.PeerConnection
}

func newPionConnection(iceServers []webrtc.ICEServer) (peerConnection, error) {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc}, nil
}

func (p *pionConnection) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return p.pc.CreateOffer(opts)
}

func (p *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *pionConnection) OnTrack(fn func(*webrtc.TrackRemote)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (p *pionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionConnection) Close() error {
	return p.pc.Close()
}
