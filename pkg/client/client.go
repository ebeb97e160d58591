package client

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ZentaChain/zentalk-client/pkg/call"
	"github.com/ZentaChain/zentalk-client/pkg/crypto"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/relay"
	"github.com/ZentaChain/zentalk-client/pkg/storage"
	"github.com/ZentaChain/zentalk-client/pkg/transfer"
)

var (
	ErrNotLoggedIn     = errors.New("no identity logged in")
	ErrAlreadyLoggedIn = errors.New("an identity is already logged in")
)

// backfillWindow bounds how far back DM subscriptions reach on login.
// Relays are untrusted shared infrastructure, not long-term archives.
const backfillWindow = 24 * time.Hour

// channelDiscoveryLimit bounds the default channel-creation filter used
// before any channel has been joined
const channelDiscoveryLimit = 50

// Config carries the client's startup settings
type Config struct {
	// Relays are the websocket relay endpoints to maintain
	Relays []string

	// DataDir holds the address book and transfer databases
	DataDir string

	// ICEServers for call transport negotiation, DefaultICEServers when
	// empty
	ICEServers []webrtc.ICEServer

	// Media captures local call tracks, call.NoMedia when nil
	Media call.MediaSource
}

// Client is the messaging client: one identity, a relay pool, and the
// services layered on it. All exported methods are safe for concurrent
// use.
type Client struct {
	mu  sync.RWMutex
	cfg Config

	identity *crypto.KeyPair
	codec    *Codec

	pool      *relay.Pool
	book      *storage.AddressBook
	store     *transfer.Store
	transfers *transfer.Transport
	calls     *call.Session
	profiles  *ProfileCache
	router    *Router
	bus       *Bus

	// profileWants are extra kind-0 authors folded into the relay
	// subscription until their profile arrives
	profileWants map[string]struct{}
	channels     map[string]struct{}

	callRemote  string
	loginAt     int64
	unsubStatus func()
}

// New opens the client's local databases. No identity is active until
// Login.
func New(cfg Config) (*Client, error) {
	book, err := storage.NewAddressBook(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}
	store, err := transfer.NewStore(cfg.DataDir)
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("open transfer store: %w", err)
	}
	if cfg.Media == nil {
		cfg.Media = call.NoMedia{}
	}

	c := &Client{
		cfg:          cfg,
		book:         book,
		store:        store,
		bus:          NewBus(),
		profileWants: make(map[string]struct{}),
		channels:     make(map[string]struct{}),
	}
	return c, nil
}

// Login activates an identity and connects the relay pool. An empty
// secret generates a fresh identity.
func (c *Client) Login(secretHex string) error {
	c.mu.Lock()
	if c.identity != nil {
		c.mu.Unlock()
		return ErrAlreadyLoggedIn
	}

	var kp *crypto.KeyPair
	var err error
	if secretHex == "" {
		kp, err = crypto.GenerateKeyPair()
	} else {
		kp, err = crypto.ImportSecretKey(secretHex)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.identity = kp
	c.codec = NewCodec(kp)
	c.loginAt = protocol.NowUnix()
	c.profiles = NewProfileCache(c.requestProfiles)
	c.pool = relay.NewPool(c.subscriptionFilters)
	c.transfers = transfer.NewTransport(c.store, c.sendPayload)
	c.calls = call.NewSession(call.Config{
		Signal:     c.sendPayload,
		Media:      c.cfg.Media,
		OnState:    c.publishCallState,
		ICEServers: c.cfg.ICEServers,
	})
	c.router = c.buildRouter()
	c.unsubStatus = c.pool.SubscribeStatus(func(u relay.StatusUpdate) {
		c.bus.Publish(Event{Kind: EventRelayStatus, RelayStatus: &u})
	})

	// Rejoin channels known from previous sessions before the first
	// subscription goes out
	if channels, err := c.book.ListChannels(); err == nil {
		for _, ch := range channels {
			c.channels[ch.ID] = struct{}{}
		}
	}

	pool := c.pool
	relays := c.cfg.Relays
	c.mu.Unlock()

	for _, url := range relays {
		if err := pool.AddRelay(url); err != nil {
			log.Printf("⚠️ Relay %s rejected: %v", url, err)
		}
	}
	go c.eventLoop(pool)

	log.Printf("✅ Logged in as %s", shortKey(kp.PublicKey()))
	return nil
}

// Logout ends any active call, disconnects the relays, and discards the
// identity. The local databases stay open for the next login.
func (c *Client) Logout() {
	c.mu.Lock()
	pool := c.pool
	calls := c.calls
	unsub := c.unsubStatus
	c.identity = nil
	c.codec = nil
	c.pool = nil
	c.calls = nil
	c.transfers = nil
	c.profiles = nil
	c.router = nil
	c.unsubStatus = nil
	c.callRemote = ""
	c.profileWants = make(map[string]struct{})
	c.channels = make(map[string]struct{})
	c.mu.Unlock()

	if calls != nil {
		calls.End()
	}
	if unsub != nil {
		unsub()
	}
	if pool != nil {
		pool.Stop()
	}
}

// Close releases everything including the local databases
func (c *Client) Close() error {
	c.Logout()
	err := c.book.Close()
	if serr := c.store.Close(); err == nil {
		err = serr
	}
	return err
}

// PublicKey returns the active identity's public key, empty when logged
// out
func (c *Client) PublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.PublicKey()
}

// ExportSecretKey returns the active identity's secret key for backup
func (c *Client) ExportSecretKey() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return "", ErrNotLoggedIn
	}
	return c.identity.ExportSecretKey(), nil
}

// Subscribe registers a bus observer and returns its unsubscribe handle
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.bus.Subscribe(fn)
}

// eventLoop drains the pool's merged inbound stream until Logout closes
// it
func (c *Client) eventLoop(pool *relay.Pool) {
	for in := range pool.Events() {
		c.handleEvent(in)
	}
}

func (c *Client) handleEvent(in relay.Inbound) {
	c.mu.RLock()
	codec := c.codec
	router := c.router
	c.mu.RUnlock()
	if codec == nil || router == nil {
		return
	}

	d, err := codec.Decode(in.Event)
	if err != nil {
		// Not-for-us, undecryptable, and malformed envelopes are all
		// expected traffic on a shared relay; none of it is worth noise
		return
	}
	router.Dispatch(d, in.Event)
}

// subscriptionFilters builds the relay subscription set for the active
// identity: DMs to us, our own mirrored DMs, joined channel traffic,
// and any profiles being fetched
func (c *Client) subscriptionFilters() []*protocol.Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}

	me := c.identity.PublicKey()
	since := c.loginAt - int64(backfillWindow/time.Second)
	filters := []*protocol.Filter{
		{Kinds: []int{protocol.KindEncryptedDM}, PTags: []string{me}, Since: since},
		{Kinds: []int{protocol.KindEncryptedDM}, Authors: []string{me}, Since: since},
	}

	if len(c.channels) > 0 {
		ids := make([]string, 0, len(c.channels))
		for id := range c.channels {
			ids = append(ids, id)
		}
		filters = append(filters,
			&protocol.Filter{IDs: ids, Kinds: []int{protocol.KindChannelCreate}},
			&protocol.Filter{Kinds: []int{protocol.KindChannelPost}, ETags: ids, Since: since},
		)
	} else {
		// Nothing joined yet: keep a bounded window onto new channels so
		// there is something to discover
		filters = append(filters, &protocol.Filter{
			Kinds: []int{protocol.KindChannelCreate},
			Limit: channelDiscoveryLimit,
		})
	}

	if len(c.profileWants) > 0 {
		authors := make([]string, 0, len(c.profileWants))
		for k := range c.profileWants {
			authors = append(authors, k)
		}
		filters = append(filters, &protocol.Filter{
			Kinds:   []int{protocol.KindProfile},
			Authors: authors,
		})
	}
	return filters
}

// requestProfiles widens the subscription to cover profile lookups
func (c *Client) requestProfiles(pubkeys []string) {
	c.mu.Lock()
	for _, k := range pubkeys {
		c.profileWants[k] = struct{}{}
	}
	pool := c.pool
	c.mu.Unlock()

	if pool != nil {
		pool.Resubscribe()
	}
}

// buildAndSend encrypts a payload for the recipient, broadcasts the
// envelope, and returns the published event. It is the single outbound
// path shared by messaging, transfers, and call signaling.
func (c *Client) buildAndSend(recipient string, p *protocol.Payload) (*protocol.Event, error) {
	c.mu.RLock()
	codec := c.codec
	pool := c.pool
	c.mu.RUnlock()
	if codec == nil || pool == nil {
		return nil, ErrNotLoggedIn
	}

	ev, err := codec.BuildDM(recipient, p)
	if err != nil {
		return nil, err
	}
	if err := pool.Send(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *Client) sendPayload(recipient string, p *protocol.Payload) error {
	_, err := c.buildAndSend(recipient, p)
	return err
}

func (c *Client) publishCallState(state call.State, reason string) {
	c.mu.Lock()
	remote := c.callRemote
	if state == call.StateIdle {
		c.callRemote = ""
	}
	c.mu.Unlock()

	c.bus.Publish(Event{Kind: EventCallState, Call: &CallEvent{
		State:  string(state),
		Reason: reason,
		Remote: remote,
	}})
}
