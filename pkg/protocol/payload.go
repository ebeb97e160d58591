package protocol

import (
	"encoding/json"
	"errors"
)

var ErrUnknownPayload = errors.New("unknown payload type")

// Payload is the decrypted content of an encrypted direct-message event.
// The Type field discriminates the union; exactly one of the optional
// sections is populated for non-text types.
type Payload struct {
	Type string `json:"type"`

	// Text carries the message body for text and channel posts
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`

	// ChannelID scopes channel posts and typing indicators
	ChannelID string `json:"channel_id,omitempty"`

	Profile    *Profile       `json:"profile,omitempty"`
	Channel    *ChannelInfo   `json:"channel,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	Meta       *TransferMeta  `json:"meta,omitempty"`
	Chunk      *TransferChunk `json:"chunk,omitempty"`
	Call       *CallSignal    `json:"call,omitempty"`
}

// Profile is the public metadata published under kind 0 and mirrored in
// profile payloads
type Profile struct {
	Name    string `json:"name"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ChannelInfo describes a channel at creation time
type ChannelInfo struct {
	Name  string `json:"name"`
	About string `json:"about,omitempty"`
}

// Attachment is an inline attachment, small enough for one envelope
type Attachment struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"data"` // base64 via encoding/json
}

// TransferMeta announces a chunked transfer before (or after) its chunks
type TransferMeta struct {
	TransferID  string `json:"transfer_id"`
	FileName    string `json:"file_name"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"total_chunks"`
}

// TransferChunk carries one chunk of an oversized attachment
type TransferChunk struct {
	TransferID  string `json:"transfer_id"`
	Index       int    `json:"index"`
	TotalChunks int    `json:"total_chunks"`
	Data        []byte `json:"data"`
}

// CallSignal carries call setup/teardown and WebRTC negotiation data.
// CallID correlates every signal belonging to one call attempt.
type CallSignal struct {
	CallID    string `json:"call_id"`
	Media     string `json:"media,omitempty"`     // call_request: audio|video
	SDP       string `json:"sdp,omitempty"`       // call_offer / call_answer
	Candidate string `json:"candidate,omitempty"` // call_ice, JSON-encoded ICE candidate
	Reason    string `json:"reason,omitempty"`    // call_reject / call_end
}

// IsCallSignal reports whether the payload type belongs to the call block
func (p *Payload) IsCallSignal() bool {
	switch p.Type {
	case PayloadCallRequest, PayloadCallAccept, PayloadCallReject,
		PayloadCallEnd, PayloadCallOffer, PayloadCallAnswer, PayloadCallICE:
		return true
	}
	return false
}

// Encode serializes the payload for encryption
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a decrypted payload. An error here means the
// content was not a structured payload; callers fall back to plain text.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Type == "" {
		return nil, ErrUnknownPayload
	}
	return &p, nil
}

// Validate checks the structural invariants of the populated section
func (p *Payload) Validate() error {
	switch p.Type {
	case PayloadAttachment:
		if p.Attachment == nil || p.Attachment.FileName == "" {
			return ErrUnknownPayload
		}
	case PayloadAttachmentMeta:
		if p.Meta == nil || p.Meta.TransferID == "" || p.Meta.TotalChunks <= 0 {
			return ErrUnknownPayload
		}
	case PayloadAttachmentChunk:
		if p.Chunk == nil || p.Chunk.TransferID == "" ||
			p.Chunk.Index < 0 || p.Chunk.Index >= p.Chunk.TotalChunks {
			return ErrUnknownPayload
		}
	case PayloadChannelCreate:
		if p.Channel == nil || p.Channel.Name == "" {
			return ErrUnknownPayload
		}
	case PayloadChannelPost:
		if p.ChannelID == "" {
			return ErrUnknownPayload
		}
	case PayloadProfile:
		if p.Profile == nil {
			return ErrUnknownPayload
		}
	default:
		if p.IsCallSignal() && (p.Call == nil || p.Call.CallID == "") {
			return ErrUnknownPayload
		}
	}
	return nil
}
