package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed relay frame")

// Relay frame labels
const (
	FrameReq    = "REQ"
	FrameEvent  = "EVENT"
	FrameClose  = "CLOSE"
	FrameEOSE   = "EOSE"
	FrameOK     = "OK"
	FrameNotice = "NOTICE"
)

// RelayFrame is one decoded inbound message from a relay
type RelayFrame struct {
	Label string

	// EVENT
	SubID string
	Event *Event

	// OK
	EventID  string
	Accepted bool

	// NOTICE / OK
	Message string
}

// EncodeReq builds a ["REQ", subID, filter...] frame
func EncodeReq(subID string, filters ...*Filter) ([]byte, error) {
	parts := make([]interface{}, 0, 2+len(filters))
	parts = append(parts, FrameReq, subID)
	for _, f := range filters {
		parts = append(parts, f)
	}
	return json.Marshal(parts)
}

// EncodeEvent builds an ["EVENT", event] frame
func EncodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal([]interface{}{FrameEvent, ev})
}

// EncodeClose builds a ["CLOSE", subID] frame
func EncodeClose(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{FrameClose, subID})
}

// DecodeRelayFrame parses one inbound relay message. Unknown labels are
// returned as-is with only Label set so callers can skip them.
func DecodeRelayFrame(data []byte) (*RelayFrame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return nil, ErrMalformedFrame
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, ErrMalformedFrame
	}

	frame := &RelayFrame{Label: label}

	switch label {
	case FrameEvent:
		// ["EVENT", subID, event]
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: EVENT with %d elements", ErrMalformedFrame, len(parts))
		}
		if err := json.Unmarshal(parts[1], &frame.SubID); err != nil {
			return nil, ErrMalformedFrame
		}
		frame.Event = &Event{}
		if err := json.Unmarshal(parts[2], frame.Event); err != nil {
			return nil, ErrMalformedFrame
		}

	case FrameEOSE:
		if len(parts) < 2 {
			return nil, ErrMalformedFrame
		}
		if err := json.Unmarshal(parts[1], &frame.SubID); err != nil {
			return nil, ErrMalformedFrame
		}

	case FrameOK:
		// ["OK", eventID, accepted, message]
		if len(parts) < 3 {
			return nil, ErrMalformedFrame
		}
		if err := json.Unmarshal(parts[1], &frame.EventID); err != nil {
			return nil, ErrMalformedFrame
		}
		if err := json.Unmarshal(parts[2], &frame.Accepted); err != nil {
			return nil, ErrMalformedFrame
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &frame.Message)
		}

	case FrameNotice:
		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &frame.Message)
		}
	}

	return frame, nil
}
