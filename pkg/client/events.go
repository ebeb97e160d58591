package client

import (
	"sync"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/relay"
	"github.com/ZentaChain/zentalk-client/pkg/storage"
)

// EventKind tags the bus event union
type EventKind string

const (
	EventMessage     EventKind = "message"
	EventChannel     EventKind = "channel"
	EventProfile     EventKind = "profile"
	EventTyping      EventKind = "typing"
	EventRelayStatus EventKind = "relay_status"
	EventCallState   EventKind = "call_state"
)

// AttachmentRef describes a message attachment. Inline data is present
// for small attachments; chunked ones carry the transfer id and are
// assembled on demand.
type AttachmentRef struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	Data       []byte `json:"data,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
}

// DirectMessage is the assembled, UI-facing message unit, produced only
// after a payload is fully decoded and any chunked attachment fully
// reassembled
type DirectMessage struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to,omitempty"`
	Content    string         `json:"content"`
	Timestamp  int64          `json:"timestamp"`
	Kind       string         `json:"kind"`
	ChannelID  string         `json:"channel_id,omitempty"`
	ReplyTo    string         `json:"reply_to,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

// ProfileEvent pairs a public key with its updated profile
type ProfileEvent struct {
	PubKey  string            `json:"pubkey"`
	Profile *protocol.Profile `json:"profile"`
}

// TypingEvent reports a peer typing, ephemeral and never persisted
type TypingEvent struct {
	From      string `json:"from"`
	ChannelID string `json:"channel_id,omitempty"`
}

// CallEvent reports a call state transition with its user-visible reason
type CallEvent struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
	Remote string `json:"remote,omitempty"`
}

// Event is the tagged union published on the bus
type Event struct {
	Kind EventKind `json:"kind"`

	Message     *DirectMessage      `json:"message,omitempty"`
	Channel     *storage.Channel    `json:"channel,omitempty"`
	Profile     *ProfileEvent       `json:"profile,omitempty"`
	Typing      *TypingEvent        `json:"typing,omitempty"`
	RelayStatus *relay.StatusUpdate `json:"relay_status,omitempty"`
	Call        *CallEvent          `json:"call,omitempty"`
}

// Bus fans events out to registered observers. Subscribe returns the
// unsubscribe handle so observers cannot leak.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers an observer for all events
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers an event to every current observer
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
