package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-client/pkg/crypto"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var (
	// ErrNotApplicable marks events addressed to someone else or of a
	// kind the client does not handle
	ErrNotApplicable = errors.New("event not applicable to this identity")

	// ErrUndecryptable marks envelopes that fail decryption. Expected
	// protocol noise on shared relays, dropped without logging content.
	ErrUndecryptable = errors.New("envelope failed decryption")
)

// Codec builds outbound envelopes and opens inbound ones for a single
// identity
type Codec struct {
	identity *crypto.KeyPair
}

// NewCodec creates a codec bound to the given identity
func NewCodec(identity *crypto.KeyPair) *Codec {
	return &Codec{identity: identity}
}

// BuildDM encrypts a payload for the recipient and wraps it in a signed
// kind-4 envelope
func (c *Codec) BuildDM(recipient string, p *protocol.Payload) (*protocol.Event, error) {
	if err := crypto.ValidatePublicKey(recipient); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	plaintext, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	content, err := c.identity.Encrypt(plaintext, recipient)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	ev := &protocol.Event{
		CreatedAt: protocol.NowUnix(),
		Kind:      protocol.KindEncryptedDM,
		Content:   content,
	}
	ev.AddTag("p", recipient)
	if err := ev.Sign(c.identity); err != nil {
		return nil, err
	}
	return ev, nil
}

// BuildProfile wraps the identity's public profile in a signed kind-0
// event. Profile content is plaintext by design, it is public metadata.
func (c *Codec) BuildProfile(profile *protocol.Profile) (*protocol.Event, error) {
	content, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	ev := &protocol.Event{
		CreatedAt: protocol.NowUnix(),
		Kind:      protocol.KindProfile,
		Content:   string(content),
	}
	if err := ev.Sign(c.identity); err != nil {
		return nil, err
	}
	return ev, nil
}

// BuildChannelCreate publishes a new public channel. The event id
// becomes the channel id.
func (c *Codec) BuildChannelCreate(info *protocol.ChannelInfo) (*protocol.Event, error) {
	content, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode channel: %w", err)
	}
	ev := &protocol.Event{
		CreatedAt: protocol.NowUnix(),
		Kind:      protocol.KindChannelCreate,
		Content:   string(content),
	}
	if err := ev.Sign(c.identity); err != nil {
		return nil, err
	}
	return ev, nil
}

// BuildChannelPost publishes a plaintext post into a public channel,
// linked to the channel by its "e" tag
func (c *Codec) BuildChannelPost(channelID, text string) (*protocol.Event, error) {
	ev := &protocol.Event{
		CreatedAt: protocol.NowUnix(),
		Kind:      protocol.KindChannelPost,
		Content:   text,
	}
	ev.AddTag("e", channelID)
	if err := ev.Sign(c.identity); err != nil {
		return nil, err
	}
	return ev, nil
}

// Decoded is a normalized inbound event: any relay kind reduced to one
// payload plus the conversation peer
type Decoded struct {
	Payload *protocol.Payload

	// Peer is the conversation counterparty: the sender, except for
	// self-sent envelopes mirrored back by a relay, where it is the
	// recipient so the message lands in the right conversation
	Peer string

	// Sent is true when the envelope was authored by this identity
	Sent bool
}

// Decode opens an inbound event. ErrNotApplicable means the event is for
// someone else and must be dropped silently; ErrUndecryptable likewise.
func (c *Codec) Decode(ev *protocol.Event) (*Decoded, error) {
	me := c.identity.PublicKey()

	switch ev.Kind {
	case protocol.KindProfile:
		var profile protocol.Profile
		if err := json.Unmarshal([]byte(ev.Content), &profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return &Decoded{
			Payload: &protocol.Payload{Type: protocol.PayloadProfile, Profile: &profile},
			Peer:    ev.PubKey,
			Sent:    ev.PubKey == me,
		}, nil

	case protocol.KindChannelCreate:
		var info protocol.ChannelInfo
		if err := json.Unmarshal([]byte(ev.Content), &info); err != nil {
			return nil, fmt.Errorf("decode channel: %w", err)
		}
		return &Decoded{
			Payload: &protocol.Payload{
				Type:      protocol.PayloadChannelCreate,
				ChannelID: ev.ID,
				Channel:   &info,
			},
			Peer: ev.PubKey,
			Sent: ev.PubKey == me,
		}, nil

	case protocol.KindChannelPost:
		channelID := ev.TagValue("e")
		if channelID == "" {
			return nil, ErrNotApplicable
		}
		return &Decoded{
			Payload: &protocol.Payload{
				Type:      protocol.PayloadChannelPost,
				ChannelID: channelID,
				Text:      ev.Content,
			},
			Peer: ev.PubKey,
			Sent: ev.PubKey == me,
		}, nil

	case protocol.KindEncryptedDM:
		return c.decodeDM(ev, me)
	}

	return nil, ErrNotApplicable
}

func (c *Codec) decodeDM(ev *protocol.Event, me string) (*Decoded, error) {
	recipient := ev.Recipient()
	sent := ev.PubKey == me
	if !sent && recipient != me {
		return nil, ErrNotApplicable
	}

	// The conversation key is symmetric, so a self-sent envelope decrypts
	// against the recipient instead of the author
	peer := ev.PubKey
	if sent {
		peer = recipient
	}
	if peer == "" {
		return nil, ErrNotApplicable
	}

	plaintext, err := c.identity.Decrypt(ev.Content, peer)
	if err != nil {
		return nil, ErrUndecryptable
	}

	p, err := protocol.DecodePayload(plaintext)
	if err != nil {
		// Not a structured payload: treat the plaintext as a bare text
		// message from older senders
		p = &protocol.Payload{Type: protocol.PayloadText, Text: string(plaintext)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Decoded{Payload: p, Peer: peer, Sent: sent}, nil
}
