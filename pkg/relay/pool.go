package relay

import (
	"errors"
	"log"
	"sync"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var (
	ErrPoolClosed = errors.New("relay pool closed")
	ErrNoRoute    = errors.New("no connected relay")
)

// Inbound couples a deduplicated event with the relay that delivered it
type Inbound struct {
	Event *protocol.Event
	Relay string
}

// StatusUpdate is broadcast to observers on every link state change
type StatusUpdate struct {
	Endpoint string
	Status   Status
}

// Pool owns the configured relay endpoints: it fans outbound sends to
// every open link, merges inbound events, and deduplicates event ids
// process-wide.
type Pool struct {
	mu      sync.RWMutex
	links   map[string]*Link
	seen    map[string]struct{}
	stopped bool

	filters func() []*protocol.Filter
	events  chan Inbound

	statusSubs map[int]func(StatusUpdate)
	nextSubID  int
}

// NewPool creates a pool. filters supplies the subscription set each
// link reissues on open.
func NewPool(filters func() []*protocol.Filter) *Pool {
	return &Pool{
		links:      make(map[string]*Link),
		seen:       make(map[string]struct{}),
		filters:    filters,
		events:     make(chan Inbound, 256),
		statusSubs: make(map[int]func(StatusUpdate)),
	}
}

// Events returns the merged, deduplicated inbound stream
func (p *Pool) Events() <-chan Inbound {
	return p.events
}

// AddRelay registers an endpoint and starts connecting it. Other
// endpoints are not disturbed. Adding a known endpoint is a no-op.
func (p *Pool) AddRelay(url string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if _, exists := p.links[url]; exists {
		p.mu.Unlock()
		return nil
	}
	link := NewLink(url, p.filters, p.ingest, p.notifyStatus)
	p.links[url] = link
	p.mu.Unlock()

	go link.Connect()
	return nil
}

// RemoveRelay tears one endpoint down, leaving the rest untouched
func (p *Pool) RemoveRelay(url string) {
	p.mu.Lock()
	link, exists := p.links[url]
	delete(p.links, url)
	p.mu.Unlock()

	if exists {
		link.Close()
	}
}

// ConnectAll opens a link per configured endpoint
func (p *Pool) ConnectAll() {
	p.mu.RLock()
	links := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.RUnlock()

	for _, l := range links {
		go l.Connect()
	}
}

// Send broadcasts a signed event to every connected link. It fails with
// ErrNoRoute when none are connected.
func (p *Pool) Send(ev *protocol.Event) error {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	links := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.RUnlock()

	delivered := 0
	for _, l := range links {
		if err := l.Send(frame); err == nil {
			delivered++
		}
	}
	if delivered == 0 {
		return ErrNoRoute
	}
	return nil
}

// Resubscribe reissues subscriptions on every connected link, used when
// the filter set changed at runtime
func (p *Pool) Resubscribe() {
	p.mu.RLock()
	links := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.RUnlock()

	for _, l := range links {
		l.Resubscribe()
	}
}

// ingest is the single entry point for raw events from links. Each event
// id is processed at most once process-wide, however many relays deliver
// it, and events failing signature verification never leave the pool.
func (p *Pool) ingest(ev *protocol.Event, relayURL string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if _, dup := p.seen[ev.ID]; dup {
		p.mu.Unlock()
		return
	}
	p.seen[ev.ID] = struct{}{}
	p.mu.Unlock()

	if err := ev.Verify(); err != nil {
		// Expected noise on a public relay
		return
	}

	// Re-check stopped under the lock so the events channel cannot be
	// closed out from under the send
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}

	select {
	case p.events <- Inbound{Event: ev, Relay: relayURL}:
	default:
		log.Printf("⚠️  Inbound event queue full, dropping %s", ev.ID)
	}
}

// ConnectedCount derives the number of open links
func (p *Pool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, l := range p.links {
		if l.Status() == StatusConnected {
			n++
		}
	}
	return n
}

// Statuses returns a snapshot of per-endpoint connection status
func (p *Pool) Statuses() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Status, len(p.links))
	for url, l := range p.links {
		out[url] = l.Status()
	}
	return out
}

// SubscribeStatus registers a status observer and returns its
// unsubscribe handle
func (p *Pool) SubscribeStatus(fn func(StatusUpdate)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.statusSubs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.statusSubs, id)
		p.mu.Unlock()
	}
}

func (p *Pool) notifyStatus(url string, status Status) {
	p.mu.RLock()
	subs := make([]func(StatusUpdate), 0, len(p.statusSubs))
	for _, fn := range p.statusSubs {
		subs = append(subs, fn)
	}
	p.mu.RUnlock()

	for _, fn := range subs {
		fn(StatusUpdate{Endpoint: url, Status: status})
	}
}

// Stop closes every link and suppresses all future reconnects
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	links := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
	close(p.events)
}
