package client

import (
	"errors"

	"github.com/ZentaChain/zentalk-client/pkg/call"
	"github.com/ZentaChain/zentalk-client/pkg/crypto"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/relay"
	"github.com/ZentaChain/zentalk-client/pkg/storage"
	"github.com/ZentaChain/zentalk-client/pkg/transfer"
)

var ErrUnknownChannel = errors.New("unknown channel")

// SendText sends an encrypted text message and returns the local echo.
// The echo carries the published event id so it can be reconciled with
// the relay-mirrored copy.
func (c *Client) SendText(to, text, replyTo string) (*DirectMessage, error) {
	p := &protocol.Payload{Type: protocol.PayloadText, Text: text, ReplyTo: replyTo}
	ev, err := c.buildAndSend(to, p)
	if err != nil {
		return nil, err
	}
	return &DirectMessage{
		ID:        ev.ID,
		From:      c.PublicKey(),
		To:        to,
		Content:   text,
		ReplyTo:   replyTo,
		Timestamp: ev.CreatedAt,
		Kind:      protocol.PayloadText,
	}, nil
}

// SendTyping sends an ephemeral typing indicator
func (c *Client) SendTyping(to, channelID string) error {
	return c.sendPayload(to, &protocol.Payload{
		Type:      protocol.PayloadTyping,
		ChannelID: channelID,
	})
}

// SendAttachment sends a file to a peer, inline when small enough and
// chunked otherwise. progress may be nil.
func (c *Client) SendAttachment(to, fileName, mimeType string, data []byte, progress transfer.ProgressFunc) error {
	c.mu.RLock()
	transfers := c.transfers
	c.mu.RUnlock()
	if transfers == nil {
		return ErrNotLoggedIn
	}
	return transfers.SendAttachment(to, fileName, mimeType, data, progress)
}

// DownloadAttachment reassembles a completed chunked transfer
func (c *Client) DownloadAttachment(transferID string) ([]byte, error) {
	c.mu.RLock()
	transfers := c.transfers
	c.mu.RUnlock()
	if transfers == nil {
		return nil, ErrNotLoggedIn
	}
	return transfers.Assemble(transferID)
}

// PublishProfile broadcasts the identity's public profile
func (c *Client) PublishProfile(profile *protocol.Profile) error {
	c.mu.RLock()
	codec := c.codec
	pool := c.pool
	c.mu.RUnlock()
	if codec == nil || pool == nil {
		return ErrNotLoggedIn
	}

	ev, err := codec.BuildProfile(profile)
	if err != nil {
		return err
	}
	return pool.Send(ev)
}

// Profile returns the cached profile for pubkey, triggering a relay
// fetch when unknown. A nil return means not cached yet; the profile
// arrives later as a bus event.
func (c *Client) Profile(pubkey string) *protocol.Profile {
	c.mu.RLock()
	profiles := c.profiles
	c.mu.RUnlock()
	if profiles == nil {
		return nil
	}
	return profiles.Get(pubkey)
}

// CreateChannel publishes a new public channel and joins it. The relay
// event id is the channel id.
func (c *Client) CreateChannel(name, about string) (*storage.Channel, error) {
	c.mu.RLock()
	codec := c.codec
	pool := c.pool
	c.mu.RUnlock()
	if codec == nil || pool == nil {
		return nil, ErrNotLoggedIn
	}

	ev, err := codec.BuildChannelCreate(&protocol.ChannelInfo{Name: name, About: about})
	if err != nil {
		return nil, err
	}
	if err := pool.Send(ev); err != nil {
		return nil, err
	}

	channel := &storage.Channel{
		ID:        ev.ID,
		Name:      name,
		About:     about,
		Creator:   ev.PubKey,
		CreatedAt: ev.CreatedAt,
	}
	if err := c.book.SaveChannel(channel); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.channels[ev.ID] = struct{}{}
	c.mu.Unlock()
	pool.Resubscribe()
	return channel, nil
}

// JoinChannel subscribes to an existing channel by id. Its metadata is
// filled in when the creation event arrives.
func (c *Client) JoinChannel(channelID string) error {
	c.mu.Lock()
	pool := c.pool
	if pool == nil {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	_, joined := c.channels[channelID]
	c.channels[channelID] = struct{}{}
	c.mu.Unlock()

	if !joined {
		if err := c.book.SaveChannel(&storage.Channel{ID: channelID}); err != nil {
			return err
		}
		pool.Resubscribe()
	}
	return nil
}

// LeaveChannel drops the subscription and forgets the channel
func (c *Client) LeaveChannel(channelID string) error {
	c.mu.Lock()
	pool := c.pool
	delete(c.channels, channelID)
	c.mu.Unlock()

	if err := c.book.DeleteChannel(channelID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if pool != nil {
		pool.Resubscribe()
	}
	return nil
}

// PostToChannel publishes a plaintext post into a joined channel
func (c *Client) PostToChannel(channelID, text string) error {
	c.mu.RLock()
	codec := c.codec
	pool := c.pool
	_, joined := c.channels[channelID]
	c.mu.RUnlock()
	if codec == nil || pool == nil {
		return ErrNotLoggedIn
	}
	if !joined {
		return ErrUnknownChannel
	}

	ev, err := codec.BuildChannelPost(channelID, text)
	if err != nil {
		return err
	}
	return pool.Send(ev)
}

// Channels lists the channels known to the address book
func (c *Client) Channels() ([]*storage.Channel, error) {
	return c.book.ListChannels()
}

// Contacts lists the address book
func (c *Client) Contacts() ([]*storage.Contact, error) {
	return c.book.ListContacts()
}

// AddContact saves a peer to the address book and requests their profile
func (c *Client) AddContact(pubkey, name string) error {
	if err := crypto.ValidatePublicKey(pubkey); err != nil {
		return err
	}
	if err := c.book.SaveContact(&storage.Contact{
		PubKey:  pubkey,
		Name:    name,
		AddedAt: protocol.NowUnix(),
	}); err != nil {
		return err
	}
	c.Profile(pubkey)
	return nil
}

// RemoveContact deletes a peer from the address book
func (c *Client) RemoveContact(pubkey string) error {
	return c.book.DeleteContact(pubkey)
}

// StartCall rings a peer. media is audio or video.
func (c *Client) StartCall(peer, media string) error {
	c.mu.Lock()
	calls := c.calls
	if calls != nil {
		c.callRemote = peer
	}
	c.mu.Unlock()
	if calls == nil {
		return ErrNotLoggedIn
	}
	return calls.Initiate(peer, media)
}

// AcceptCall answers the ringing call
func (c *Client) AcceptCall() error {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return ErrNotLoggedIn
	}
	return calls.Accept()
}

// RejectCall declines the ringing call
func (c *Client) RejectCall() error {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return ErrNotLoggedIn
	}
	return calls.Reject()
}

// EndCall hangs up whatever call is in progress
func (c *Client) EndCall() {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls != nil {
		calls.End()
	}
}

// MuteCall toggles the local microphone during the active call
func (c *Client) MuteCall(muted bool) error {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return ErrNotLoggedIn
	}
	return calls.SetMuted(muted)
}

// SetCallVideo toggles the local camera during the active call
func (c *Client) SetCallVideo(enabled bool) error {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return ErrNotLoggedIn
	}
	return calls.SetVideoEnabled(enabled)
}

// CallState reports the current call state, idle when logged out
func (c *Client) CallState() call.State {
	c.mu.RLock()
	calls := c.calls
	c.mu.RUnlock()
	if calls == nil {
		return call.StateIdle
	}
	return calls.State()
}

// AddRelay adds a relay endpoint at runtime
func (c *Client) AddRelay(url string) error {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	if pool == nil {
		return ErrNotLoggedIn
	}
	return pool.AddRelay(url)
}

// RemoveRelay drops a relay endpoint
func (c *Client) RemoveRelay(url string) error {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	if pool == nil {
		return ErrNotLoggedIn
	}
	pool.RemoveRelay(url)
	return nil
}

// RelayStatuses reports every configured relay's connection state
func (c *Client) RelayStatuses() map[string]relay.Status {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	if pool == nil {
		return map[string]relay.Status{}
	}
	return pool.Statuses()
}
