package call

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Classified media capture failures, surfaced to the caller as the
// reason a call never started
var (
	ErrMediaDenied  = errors.New("media access denied")
	ErrMediaMissing = errors.New("no capture device found")
	ErrMediaBusy    = errors.New("capture device in use")
)

// NoMedia is a MediaSource that captures nothing. Device capture is
// owned by the embedding layer; a session over NoMedia still negotiates
// a full peer connection and carries any tracks the peer offers.
type NoMedia struct{}

func (NoMedia) Capture(string) ([]webrtc.TrackLocal, error) { return nil, nil }

func (NoMedia) SetMuted(bool) {}

func (NoMedia) SetVideoEnabled(bool) {}

func (NoMedia) Release() {}
