package relay

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

var (
	ErrNotConnected = errors.New("relay not connected")
	ErrLinkStopped  = errors.New("relay link stopped")
)

// Status is the connection state of one relay endpoint
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Backoff and dial constants
const (
	baseBackoff = 3 * time.Second
	maxBackoff  = 60 * time.Second
	dialTimeout = 10 * time.Second
)

// Link owns one relay connection: dial, reconnect with backoff,
// subscription issuance, outbound writes, inbound frame delivery.
type Link struct {
	URL string

	mu             sync.Mutex
	conn           *websocket.Conn
	status         Status
	attempts       int
	reconnectTimer *time.Timer
	stopped        bool

	// filters supplies the subscription set reissued on every open
	filters func() []*protocol.Filter

	// activeSubs are the subscription ids live on the current connection
	activeSubs []string

	onEvent  func(ev *protocol.Event, relayURL string)
	onStatus func(relayURL string, status Status)

	// statusCh keeps observer notifications ordered without holding mu
	// during the callback
	statusCh chan Status
	done     chan struct{}
}

// NewLink creates a link for one endpoint. It does not connect.
func NewLink(url string, filters func() []*protocol.Filter,
	onEvent func(*protocol.Event, string), onStatus func(string, Status)) *Link {

	l := &Link{
		URL:      url,
		status:   StatusDisconnected,
		filters:  filters,
		onEvent:  onEvent,
		onStatus: onStatus,
		statusCh: make(chan Status, 16),
		done:     make(chan struct{}),
	}
	go l.drainStatus()
	return l
}

func (l *Link) drainStatus() {
	for {
		select {
		case s := <-l.statusCh:
			if l.onStatus != nil {
				l.onStatus(l.URL, s)
			}
		case <-l.done:
			for {
				select {
				case s := <-l.statusCh:
					if l.onStatus != nil {
						l.onStatus(l.URL, s)
					}
				default:
					return
				}
			}
		}
	}
}

// Status returns the current connection status
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Connect dials the relay. Failure schedules a reconnect; Connect itself
// never blocks on retries.
func (l *Link) Connect() {
	l.mu.Lock()
	if l.stopped || l.status == StatusConnecting || l.status == StatusConnected {
		l.mu.Unlock()
		return
	}
	l.setStatusLocked(StatusConnecting)
	l.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(l.URL, nil)

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Printf("Relay %s dial failed: %v", l.URL, err)
		l.setStatusLocked(StatusError)
		l.scheduleReconnectLocked()
		l.mu.Unlock()
		return
	}

	l.conn = conn
	l.attempts = 0
	l.setStatusLocked(StatusConnected)
	l.mu.Unlock()

	log.Printf("✅ Connected to relay %s", l.URL)

	l.subscribe()
	go l.readLoop(conn)
}

// subscribe reissues the subscription filters on the open connection.
// Any previously issued subscription is closed first so stale filters
// stop streaming when the set changes at runtime.
func (l *Link) subscribe() {
	l.mu.Lock()
	prior := l.activeSubs
	l.activeSubs = nil
	l.mu.Unlock()

	for _, subID := range prior {
		frame, err := protocol.EncodeClose(subID)
		if err != nil {
			continue
		}
		if err := l.write(frame); err != nil {
			log.Printf("Relay %s: sending CLOSE failed: %v", l.URL, err)
			return
		}
	}

	var issued []string
	for _, f := range l.filters() {
		subID := uuid.NewString()[:8]
		frame, err := protocol.EncodeReq(subID, f)
		if err != nil {
			log.Printf("Relay %s: encoding REQ failed: %v", l.URL, err)
			continue
		}
		if err := l.write(frame); err != nil {
			log.Printf("Relay %s: sending REQ failed: %v", l.URL, err)
			break
		}
		issued = append(issued, subID)
	}

	l.mu.Lock()
	l.activeSubs = append(l.activeSubs, issued...)
	l.mu.Unlock()
}

// Resubscribe reissues filters, used when the filter set changes at
// runtime (e.g. a channel was joined)
func (l *Link) Resubscribe() {
	if l.Status() == StatusConnected {
		l.subscribe()
	}
}

// Send writes an outbound frame if the link is connected
func (l *Link) Send(frame []byte) error {
	return l.write(frame)
}

func (l *Link) write(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrLinkStopped
	}
	if l.status != StatusConnected || l.conn == nil {
		return ErrNotConnected
	}
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop drains inbound frames until the connection drops
func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.handleDisconnect(conn, err)
			return
		}

		frame, err := protocol.DecodeRelayFrame(data)
		if err != nil {
			// Malformed relay chatter is dropped, not fatal
			continue
		}

		switch frame.Label {
		case protocol.FrameEvent:
			if frame.Event != nil {
				l.onEvent(frame.Event, l.URL)
			}
		case protocol.FrameNotice:
			log.Printf("Relay %s notice: %s", l.URL, frame.Message)
		case protocol.FrameOK:
			if !frame.Accepted {
				log.Printf("Relay %s rejected event %s: %s", l.URL, frame.EventID, frame.Message)
			}
		}
	}
}

func (l *Link) handleDisconnect(conn *websocket.Conn, err error) {
	conn.Close()

	l.mu.Lock()
	defer l.mu.Unlock()

	// A stale read loop from a previous connection must not disturb state
	if l.conn != conn {
		return
	}
	l.conn = nil
	// Subscriptions live on the socket; nothing to close after a drop
	l.activeSubs = nil
	if l.stopped {
		return
	}

	log.Printf("🔄 Relay %s connection lost: %v", l.URL, err)
	l.setStatusLocked(StatusDisconnected)
	l.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the backoff timer. Caller holds l.mu.
func (l *Link) scheduleReconnectLocked() {
	delay := backoffDelay(l.attempts)
	l.attempts++

	log.Printf("Relay %s: reconnecting in %v (attempt %d)", l.URL, delay, l.attempts)
	l.reconnectTimer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		stopped := l.stopped
		if !stopped {
			// Leave connecting to Connect, which re-checks state
			l.setStatusLocked(StatusDisconnected)
		}
		l.mu.Unlock()
		if !stopped {
			l.Connect()
		}
	})
}

// backoffDelay doubles per attempt from the base delay, capped
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (l *Link) setStatusLocked(s Status) {
	if l.status == s {
		return
	}
	l.status = s
	select {
	case l.statusCh <- s:
	default:
	}
}

// Close stops the link permanently: no further reconnects fire
func (l *Link) Close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.reconnectTimer != nil {
		l.reconnectTimer.Stop()
		l.reconnectTimer = nil
	}
	conn := l.conn
	l.conn = nil
	l.setStatusLocked(StatusDisconnected)
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	close(l.done)
}
