package client

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZentaChain/zentalk-client/pkg/call"
	"github.com/ZentaChain/zentalk-client/pkg/crypto"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
	"github.com/ZentaChain/zentalk-client/pkg/relay"
)

// recorder collects bus events for assertions
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *recorder) {
	t.Helper()
	c, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Login(""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	rec := &recorder{}
	c.Subscribe(rec.record)
	return c, rec
}

// deliver feeds an event through the inbound path, bypassing the
// network
func deliver(c *Client, ev *protocol.Event) {
	c.handleEvent(relay.Inbound{Event: ev, Relay: "test"})
}

func dm(t *testing.T, from *crypto.KeyPair, to string, p *protocol.Payload) *protocol.Event {
	t.Helper()
	ev, err := NewCodec(from).BuildDM(to, p)
	if err != nil {
		t.Fatalf("BuildDM: %v", err)
	}
	return ev
}

func TestLoginLogout(t *testing.T) {
	c, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.SendText("x", "y", ""); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("SendText before login: %v, want ErrNotLoggedIn", err)
	}
	if err := c.Login(""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if c.PublicKey() == "" {
		t.Fatal("no public key after login")
	}
	if err := c.Login(""); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Fatalf("second login: %v, want ErrAlreadyLoggedIn", err)
	}

	c.Logout()
	if c.PublicKey() != "" {
		t.Fatal("public key survives logout")
	}
	if _, err := c.SendText("x", "y", ""); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("SendText after logout: %v, want ErrNotLoggedIn", err)
	}
}

func TestLoginRestoresIdentity(t *testing.T) {
	c, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Login(""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	pub := c.PublicKey()
	secret, err := c.ExportSecretKey()
	if err != nil {
		t.Fatalf("ExportSecretKey: %v", err)
	}
	c.Logout()

	if err := c.Login(secret); err != nil {
		t.Fatalf("re-login: %v", err)
	}
	if c.PublicKey() != pub {
		t.Fatal("restored identity has a different public key")
	}
}

func TestSendTextWithoutRelays(t *testing.T) {
	c, _ := newTestClient(t)
	bob := testIdentity(t)
	if _, err := c.SendText(bob.PublicKey(), "hi", ""); !errors.Is(err, relay.ErrNoRoute) {
		t.Fatalf("err = %v, want ErrNoRoute", err)
	}
}

func TestInboundTextPublishesMessage(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadText,
		Text: "hello",
	}))

	msgs := rec.ofKind(EventMessage)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	m := msgs[0].Message
	if m.From != alice.PublicKey() || m.Content != "hello" || m.Kind != protocol.PayloadText {
		t.Fatalf("message = %+v", m)
	}
}

func TestInboundUnknownPayloadDropped(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: "hologram",
		Text: "from the future",
	}))

	if n := len(rec.ofKind(EventMessage)); n != 0 {
		t.Fatalf("messages = %d, want 0 for unknown payload type", n)
	}
}

func TestInboundMalformedPayloadDropped(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	// An attachment with no file name fails payload validation
	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type:       protocol.PayloadAttachment,
		Attachment: &protocol.Attachment{Data: []byte("x")},
	}))

	rec.mu.Lock()
	n := len(rec.events)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("bus events = %d, want 0 for a malformed payload", n)
	}
}

func TestInboundTypingEphemeral(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadTyping,
	}))

	typing := rec.ofKind(EventTyping)
	if len(typing) != 1 || typing[0].Typing.From != alice.PublicKey() {
		t.Fatalf("typing events = %+v", typing)
	}
	if n := len(rec.ofKind(EventMessage)); n != 0 {
		t.Fatalf("typing produced %d messages", n)
	}
}

func TestInboundProfileWriteThrough(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	if err := bob.AddContact(alice.PublicKey(), "placeholder"); err != nil {
		t.Fatalf("AddContact: %v", err)
	}

	profile, err := NewCodec(alice).BuildProfile(&protocol.Profile{Name: "Alice", About: "hi"})
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	deliver(bob, profile)
	// Same profile arriving again, as from a second relay
	deliver(bob, profile)

	updates := rec.ofKind(EventProfile)
	if len(updates) != 1 {
		t.Fatalf("profile events = %d, want exactly 1", len(updates))
	}
	if updates[0].Profile.Profile.Name != "Alice" {
		t.Fatalf("profile = %+v", updates[0].Profile)
	}

	contact, err := bob.book.GetContact(alice.PublicKey())
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if contact.Name != "Alice" || contact.About != "hi" {
		t.Fatalf("contact not updated: %+v", contact)
	}
}

func TestInboundChannelFlow(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)
	codec := NewCodec(alice)

	create, err := codec.BuildChannelCreate(&protocol.ChannelInfo{Name: "general"})
	if err != nil {
		t.Fatalf("BuildChannelCreate: %v", err)
	}
	if err := bob.JoinChannel(create.ID); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}

	deliver(bob, create)
	channels := rec.ofKind(EventChannel)
	if len(channels) != 1 || channels[0].Channel.Name != "general" {
		t.Fatalf("channel events = %+v", channels)
	}
	if channels[0].Channel.Creator != alice.PublicKey() {
		t.Fatal("creator not taken from the signed creation event")
	}

	post, err := codec.BuildChannelPost(create.ID, "welcome")
	if err != nil {
		t.Fatalf("BuildChannelPost: %v", err)
	}
	deliver(bob, post)

	msgs := rec.ofKind(EventMessage)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Message.ChannelID != create.ID || msgs[0].Message.Content != "welcome" {
		t.Fatalf("message = %+v", msgs[0].Message)
	}
}

func TestInboundPostToUnjoinedChannelDropped(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	post, err := NewCodec(alice).BuildChannelPost("deadbeef", "noise")
	if err != nil {
		t.Fatalf("BuildChannelPost: %v", err)
	}
	deliver(bob, post)

	if n := len(rec.ofKind(EventMessage)); n != 0 {
		t.Fatalf("messages = %d, want 0 for unjoined channel", n)
	}
}

func TestInboundInlineAttachment(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadAttachment,
		Attachment: &protocol.Attachment{
			FileName: "note.txt",
			MimeType: "text/plain",
			Size:     5,
			Data:     []byte("hello"),
		},
	}))

	msgs := rec.ofKind(EventMessage)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	att := msgs[0].Message.Attachment
	if att == nil || att.FileName != "note.txt" || !bytes.Equal(att.Data, []byte("hello")) {
		t.Fatalf("attachment = %+v", att)
	}
}

func TestInboundChunkedTransferSurfacesOnce(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	const transferID = "transfer-1"
	part1, part2 := []byte("first half "), []byte("second half")

	meta := &protocol.Payload{
		Type: protocol.PayloadAttachmentMeta,
		Meta: &protocol.TransferMeta{
			TransferID:  transferID,
			FileName:    "big.bin",
			MimeType:    "application/octet-stream",
			Size:        int64(len(part1) + len(part2)),
			TotalChunks: 2,
		},
	}
	chunk := func(index int, data []byte) *protocol.Payload {
		return &protocol.Payload{
			Type: protocol.PayloadAttachmentChunk,
			Chunk: &protocol.TransferChunk{
				TransferID:  transferID,
				Index:       index,
				TotalChunks: 2,
				Data:        data,
			},
		}
	}

	to := bob.PublicKey()
	deliver(bob, dm(t, alice, to, meta))
	deliver(bob, dm(t, alice, to, chunk(0, part1)))
	if n := len(rec.ofKind(EventMessage)); n != 0 {
		t.Fatalf("%d messages surfaced after the first of 2 chunks", n)
	}

	last := dm(t, alice, to, chunk(1, part2))
	deliver(bob, last)
	// Redelivery of the final chunk must not surface a second message
	deliver(bob, dm(t, alice, to, chunk(1, part2)))

	msgs := rec.ofKind(EventMessage)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1 on completion", len(msgs))
	}
	att := msgs[0].Message.Attachment
	if att == nil || att.TransferID != transferID || att.FileName != "big.bin" {
		t.Fatalf("attachment = %+v", att)
	}
	if msgs[0].Message.From != alice.PublicKey() {
		t.Fatalf("sender = %q", msgs[0].Message.From)
	}

	data, err := bob.DownloadAttachment(transferID)
	if err != nil {
		t.Fatalf("DownloadAttachment: %v", err)
	}
	if !bytes.Equal(data, append(append([]byte(nil), part1...), part2...)) {
		t.Fatalf("assembled = %q", data)
	}
}

func TestInboundCallRequestRings(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadCallRequest,
		Call: &protocol.CallSignal{CallID: "call-1", Media: protocol.CallMediaAudio},
	}))

	if state := bob.CallState(); state != call.StateRinging {
		t.Fatalf("state = %q, want ringing", state)
	}
	states := rec.ofKind(EventCallState)
	if len(states) == 0 {
		t.Fatal("no call state event published")
	}
	if states[0].Call.State != string(call.StateRinging) || states[0].Call.Remote != alice.PublicKey() {
		t.Fatalf("call event = %+v", states[0].Call)
	}

	bob.EndCall()
	if state := bob.CallState(); state != call.StateIdle {
		t.Fatalf("state after hangup = %q, want idle", state)
	}
}

func TestSelfMirroredCallSignalIgnored(t *testing.T) {
	bob, _ := newTestClient(t)
	alice := testIdentity(t)

	// Bob's own outbound request mirrored back by a relay
	mirrored := dm(t, mustIdentity(t, bob), alice.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadCallRequest,
		Call: &protocol.CallSignal{CallID: "call-2", Media: protocol.CallMediaAudio},
	})
	deliver(bob, mirrored)

	if state := bob.CallState(); state != call.StateIdle {
		t.Fatalf("state = %q, a mirrored signal must not ring", state)
	}
}

// mustIdentity extracts the live keypair from a logged-in client
func mustIdentity(t *testing.T, c *Client) *crypto.KeyPair {
	t.Helper()
	secret, err := c.ExportSecretKey()
	if err != nil {
		t.Fatalf("ExportSecretKey: %v", err)
	}
	kp, err := crypto.ImportSecretKey(secret)
	if err != nil {
		t.Fatalf("ImportSecretKey: %v", err)
	}
	return kp
}

func TestSubscriptionFiltersCoverIdentity(t *testing.T) {
	bob, _ := newTestClient(t)

	filters := bob.subscriptionFilters()
	if len(filters) < 2 {
		t.Fatalf("filters = %d, want at least DM-in and DM-out", len(filters))
	}

	me := bob.PublicKey()
	var toMe, fromMe bool
	for _, f := range filters {
		for _, p := range f.PTags {
			if p == me {
				toMe = true
			}
		}
		for _, a := range f.Authors {
			if a == me && len(f.Kinds) == 1 && f.Kinds[0] == protocol.KindEncryptedDM {
				fromMe = true
			}
		}
	}
	if !toMe || !fromMe {
		t.Fatalf("filters missing DM coverage: toMe=%v fromMe=%v", toMe, fromMe)
	}
}

func TestSubscriptionFiltersIncludeChannelDiscovery(t *testing.T) {
	bob, _ := newTestClient(t)

	discovery := func() *protocol.Filter {
		for _, f := range bob.subscriptionFilters() {
			if len(f.Kinds) == 1 && f.Kinds[0] == protocol.KindChannelCreate && len(f.IDs) == 0 {
				return f
			}
		}
		return nil
	}

	f := discovery()
	if f == nil {
		t.Fatal("no channel discovery filter before any channel is joined")
	}
	if f.Limit <= 0 {
		t.Fatal("channel discovery filter is unbounded")
	}

	const channelID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := bob.JoinChannel(channelID); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
	if discovery() != nil {
		t.Fatal("discovery filter survives joining a channel")
	}
}

func TestDiscoveredChannelNotAutoJoined(t *testing.T) {
	bob, rec := newTestClient(t)
	alice := testIdentity(t)

	create, err := NewCodec(alice).BuildChannelCreate(&protocol.ChannelInfo{Name: "lounge"})
	if err != nil {
		t.Fatalf("BuildChannelCreate: %v", err)
	}
	deliver(bob, create)

	channels := rec.ofKind(EventChannel)
	if len(channels) != 1 || channels[0].Channel.Name != "lounge" {
		t.Fatalf("channel events = %+v", channels)
	}

	bob.mu.RLock()
	_, joined := bob.channels[create.ID]
	bob.mu.RUnlock()
	if joined {
		t.Fatal("discovered channel joined without an explicit join")
	}
	if known, _ := bob.Channels(); len(known) != 0 {
		t.Fatalf("discovered channel persisted as membership: %+v", known)
	}
}

func TestCallTogglesRequireActiveCall(t *testing.T) {
	bob, _ := newTestClient(t)

	if err := bob.MuteCall(true); !errors.Is(err, call.ErrNoActiveCall) {
		t.Fatalf("MuteCall while idle: %v, want ErrNoActiveCall", err)
	}
	if err := bob.SetCallVideo(false); !errors.Is(err, call.ErrNoActiveCall) {
		t.Fatalf("SetCallVideo while idle: %v, want ErrNoActiveCall", err)
	}

	bob.Logout()
	if err := bob.MuteCall(true); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("MuteCall after logout: %v, want ErrNotLoggedIn", err)
	}
}

func TestSendTextEchoCarriesEventID(t *testing.T) {
	bob, _ := newTestClient(t)
	alice := testIdentity(t)

	// A relay that accepts the connection and discards frames is enough
	// for the pool to route the send
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	if err := bob.AddRelay("ws" + strings.TrimPrefix(srv.URL, "http")); err != nil {
		t.Fatalf("AddRelay: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		connected := false
		for _, status := range bob.RelayStatuses() {
			if status == relay.StatusConnected {
				connected = true
			}
		}
		if connected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	msg, err := bob.SendText(alice.PublicKey(), "hi", "")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(msg.ID) != 64 {
		t.Fatalf("echo id = %q, want the published event id", msg.ID)
	}
	if msg.Timestamp == 0 {
		t.Fatal("echo timestamp not taken from the published event")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bob, _ := newTestClient(t)
	alice := testIdentity(t)

	var got int
	unsub := bob.Subscribe(func(Event) { got++ })
	unsub()

	deliver(bob, dm(t, alice, bob.PublicKey(), &protocol.Payload{
		Type: protocol.PayloadText, Text: "x",
	}))
	if got != 0 {
		t.Fatalf("unsubscribed observer received %d events", got)
	}
}
