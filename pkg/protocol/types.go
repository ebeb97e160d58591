package protocol

import "time"

// Event kinds understood by the client
const (
	KindProfile       = 0  // profile metadata, plaintext JSON content
	KindEncryptedDM   = 4  // encrypted direct message, all sub-types multiplexed
	KindChannelCreate = 40 // channel creation, plaintext channel metadata
	KindChannelPost   = 42 // channel post
)

// Payload discriminators carried in the "type" field of a decrypted payload
const (
	PayloadText            = "text"
	PayloadProfile         = "profile"
	PayloadChannelCreate   = "channel_create"
	PayloadChannelPost     = "channel_post"
	PayloadTyping          = "typing"
	PayloadAttachment      = "attachment"
	PayloadAttachmentMeta  = "attachment_meta"
	PayloadAttachmentChunk = "attachment_chunk"
	PayloadCallRequest     = "call_request"
	PayloadCallAccept      = "call_accept"
	PayloadCallReject      = "call_reject"
	PayloadCallEnd         = "call_end"
	PayloadCallOffer       = "call_offer"
	PayloadCallAnswer      = "call_answer"
	PayloadCallICE         = "call_ice"
)

// Media kinds for call requests
const (
	CallMediaAudio = "audio"
	CallMediaVideo = "video"
)

// Attachment size constants
const (
	// ChunkSize is the fixed chunk size for oversized attachments
	ChunkSize = 256 * 1024

	// InlineThreshold is the largest attachment embedded directly in a
	// single encrypted envelope
	InlineThreshold = 40 * 1024

	// MaxAttachmentSize is the absolute ceiling, checked before any
	// network activity
	MaxAttachmentSize = 2 * 1024 * 1024 * 1024
)

// NowUnix returns the current time as a Unix seconds timestamp
func NowUnix() int64 {
	return time.Now().Unix()
}
