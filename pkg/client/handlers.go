package client

import (
	"errors"
	"log"

	"github.com/ZentaChain/zentalk-client/pkg/call"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/storage"
)

// buildRouter wires the dispatch table. Every payload type the client
// understands gets a handler; anything else is dropped by the router.
func (c *Client) buildRouter() *Router {
	r := NewRouter()
	r.Handle(protocol.PayloadText, c.handleText)
	r.Handle(protocol.PayloadTyping, c.handleTyping)
	r.Handle(protocol.PayloadProfile, c.handleProfile)
	r.Handle(protocol.PayloadChannelCreate, c.handleChannelCreate)
	r.Handle(protocol.PayloadChannelPost, c.handleChannelPost)
	r.Handle(protocol.PayloadAttachment, c.handleInlineAttachment)
	r.Handle(protocol.PayloadAttachmentMeta, c.handleTransferMeta)
	r.Handle(protocol.PayloadAttachmentChunk, c.handleTransferChunk)
	for _, t := range []string{
		protocol.PayloadCallRequest, protocol.PayloadCallAccept,
		protocol.PayloadCallReject, protocol.PayloadCallEnd,
		protocol.PayloadCallOffer, protocol.PayloadCallAnswer,
		protocol.PayloadCallICE,
	} {
		r.Handle(t, c.handleCallSignal)
	}
	return r
}

func (c *Client) handleText(d *Decoded, ev *protocol.Event) {
	c.touchContact(d.Peer)
	c.bus.Publish(Event{Kind: EventMessage, Message: &DirectMessage{
		ID:        ev.ID,
		From:      ev.PubKey,
		To:        ev.Recipient(),
		Content:   d.Payload.Text,
		ReplyTo:   d.Payload.ReplyTo,
		Timestamp: ev.CreatedAt,
		Kind:      protocol.PayloadText,
	}})
}

func (c *Client) handleTyping(d *Decoded, _ *protocol.Event) {
	if d.Sent {
		return
	}
	c.bus.Publish(Event{Kind: EventTyping, Typing: &TypingEvent{
		From:      d.Peer,
		ChannelID: d.Payload.ChannelID,
	}})
}

func (c *Client) handleProfile(d *Decoded, ev *protocol.Event) {
	c.mu.RLock()
	profiles := c.profiles
	c.mu.RUnlock()
	if profiles == nil {
		return
	}

	// Duplicates from multiple relays reach here only once thanks to the
	// pool's id dedupe, but a peer may also republish an unchanged
	// profile; Update reports whether anything actually changed
	if !profiles.Update(ev.PubKey, d.Payload.Profile) {
		return
	}

	c.mu.Lock()
	delete(c.profileWants, ev.PubKey)
	c.mu.Unlock()

	// Write-through for peers already in the address book
	if contact, err := c.book.GetContact(ev.PubKey); err == nil {
		contact.Name = d.Payload.Profile.Name
		contact.About = d.Payload.Profile.About
		contact.Picture = d.Payload.Profile.Picture
		contact.LastSeen = protocol.NowUnix()
		if err := c.book.SaveContact(contact); err != nil {
			log.Printf("⚠️ Contact update for %s failed: %v", shortKey(ev.PubKey), err)
		}
	}

	c.bus.Publish(Event{Kind: EventProfile, Profile: &ProfileEvent{
		PubKey:  ev.PubKey,
		Profile: d.Payload.Profile,
	}})
}

func (c *Client) handleChannelCreate(d *Decoded, ev *protocol.Event) {
	if d.Payload.ChannelID == "" {
		return
	}

	channel := &storage.Channel{
		ID:        d.Payload.ChannelID,
		Name:      d.Payload.Channel.Name,
		About:     d.Payload.Channel.About,
		CreatedAt: ev.CreatedAt,
	}
	// The creator is only authenticated when the channel event itself is
	// signed by them; invites relayed through a DM leave it unset
	if ev.Kind == protocol.KindChannelCreate {
		channel.Creator = ev.PubKey
	}

	c.mu.RLock()
	_, joined := c.channels[channel.ID]
	c.mu.RUnlock()

	// Public creations we never joined are discovery traffic: surface
	// them, but membership stays an explicit local action. DM invites
	// join on arrival.
	invite := ev.Kind == protocol.KindEncryptedDM
	if !joined && !invite {
		c.bus.Publish(Event{Kind: EventChannel, Channel: channel})
		return
	}

	if err := c.book.SaveChannel(channel); err != nil {
		log.Printf("⚠️ Channel save for %s failed: %v", shortKey(channel.ID), err)
		return
	}

	c.mu.Lock()
	_, had := c.channels[channel.ID]
	c.channels[channel.ID] = struct{}{}
	pool := c.pool
	c.mu.Unlock()
	if !had && pool != nil {
		pool.Resubscribe()
	}

	c.bus.Publish(Event{Kind: EventChannel, Channel: channel})
}

func (c *Client) handleChannelPost(d *Decoded, ev *protocol.Event) {
	c.mu.RLock()
	_, joined := c.channels[d.Payload.ChannelID]
	c.mu.RUnlock()
	if !joined {
		return
	}

	c.bus.Publish(Event{Kind: EventMessage, Message: &DirectMessage{
		ID:        ev.ID,
		From:      ev.PubKey,
		Content:   d.Payload.Text,
		ChannelID: d.Payload.ChannelID,
		Timestamp: ev.CreatedAt,
		Kind:      protocol.PayloadChannelPost,
	}})
}

func (c *Client) handleInlineAttachment(d *Decoded, ev *protocol.Event) {
	att := d.Payload.Attachment
	c.touchContact(d.Peer)
	c.bus.Publish(Event{Kind: EventMessage, Message: &DirectMessage{
		ID:        ev.ID,
		From:      ev.PubKey,
		To:        ev.Recipient(),
		Timestamp: ev.CreatedAt,
		Kind:      protocol.PayloadAttachment,
		Attachment: &AttachmentRef{
			FileName: att.FileName,
			MimeType: att.MimeType,
			Size:     att.Size,
			Data:     att.Data,
		},
	}})
}

func (c *Client) handleTransferMeta(d *Decoded, ev *protocol.Event) {
	c.mu.RLock()
	transfers := c.transfers
	c.mu.RUnlock()
	if transfers == nil {
		return
	}
	if err := transfers.HandleMeta(d.Payload.Meta, ev.PubKey); err != nil {
		log.Printf("⚠️ Transfer meta %s failed: %v", shortKey(d.Payload.Meta.TransferID), err)
	}
}

func (c *Client) handleTransferChunk(d *Decoded, ev *protocol.Event) {
	c.mu.RLock()
	transfers := c.transfers
	c.mu.RUnlock()
	if transfers == nil {
		return
	}

	done, err := transfers.HandleChunk(d.Payload.Chunk, ev.PubKey)
	if err != nil {
		log.Printf("⚠️ Transfer chunk %s/%d failed: %v",
			shortKey(d.Payload.Chunk.TransferID), d.Payload.Chunk.Index, err)
		return
	}
	if done == nil {
		return
	}

	// All chunks present: surface the attachment exactly once
	c.bus.Publish(Event{Kind: EventMessage, Message: &DirectMessage{
		ID:        ev.ID,
		From:      done.Sender,
		To:        ev.Recipient(),
		Timestamp: ev.CreatedAt,
		Kind:      protocol.PayloadAttachment,
		Attachment: &AttachmentRef{
			FileName:   done.FileName,
			MimeType:   done.MimeType,
			Size:       done.Size,
			TransferID: done.TransferID,
		},
	}})
}

func (c *Client) handleCallSignal(d *Decoded, _ *protocol.Event) {
	if d.Sent {
		// Relays mirror our own envelopes back; feeding them into the
		// session would make it negotiate with itself
		return
	}

	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return
	}

	if d.Payload.Type == protocol.PayloadCallRequest && calls.State() == call.StateIdle {
		c.mu.Lock()
		c.callRemote = d.Peer
		c.mu.Unlock()
	}
	calls.HandleSignal(d.Peer, d.Payload)
}

// touchContact bumps LastSeen for peers already in the address book
func (c *Client) touchContact(pubkey string) {
	contact, err := c.book.GetContact(pubkey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️ Contact lookup for %s failed: %v", shortKey(pubkey), err)
		}
		return
	}
	contact.LastSeen = protocol.NowUnix()
	if err := c.book.SaveContact(contact); err != nil {
		log.Printf("⚠️ Contact update for %s failed: %v", shortKey(pubkey), err)
	}
}
