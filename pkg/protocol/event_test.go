package protocol

import (
	"testing"

	"github.com/ZentaChain/zentalk-client/pkg/crypto"
)

func testKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return kp
}

func TestEventSignVerify(t *testing.T) {
	kp := testKeyPair(t)

	ev := &Event{
		CreatedAt: 1700000000,
		Kind:      KindEncryptedDM,
		Content:   "ciphertext",
	}
	ev.AddTag("p", "0000000000000000000000000000000000000000000000000000000000000001")

	if err := ev.Sign(kp); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if ev.ID == "" || ev.Sig == "" {
		t.Fatal("Sign() left id or sig empty")
	}
	if ev.PubKey != kp.PublicKey() {
		t.Errorf("PubKey = %s, want %s", ev.PubKey, kp.PublicKey())
	}

	if err := ev.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestEventIDDeterministic(t *testing.T) {
	ev := &Event{
		PubKey:    "ab",
		CreatedAt: 42,
		Kind:      KindProfile,
		Tags:      [][]string{},
		Content:   "{}",
	}

	id1, err := ev.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID() error = %v", err)
	}
	id2, _ := ev.ComputeID()
	if id1 != id2 {
		t.Errorf("ComputeID not deterministic: %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("ID length = %d, want 64 hex chars", len(id1))
	}
}

func TestEventVerifyRejectsTampering(t *testing.T) {
	kp := testKeyPair(t)

	base := func() *Event {
		ev := &Event{CreatedAt: 1700000000, Kind: KindEncryptedDM, Content: "original"}
		if err := ev.Sign(kp); err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		return ev
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"Content changed", func(ev *Event) { ev.Content = "forged" }},
		{"Kind changed", func(ev *Event) { ev.Kind = KindProfile }},
		{"Timestamp changed", func(ev *Event) { ev.CreatedAt++ }},
		{"Tag injected", func(ev *Event) { ev.Tags = append(ev.Tags, []string{"p", "ff"}) }},
		{"Signature swapped", func(ev *Event) { ev.Sig = "00" + ev.Sig[2:] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base()
			tt.mutate(ev)
			if err := ev.Verify(); err == nil {
				t.Error("Verify() accepted tampered event")
			}
		})
	}
}

func TestEventTagHelpers(t *testing.T) {
	ev := &Event{}
	ev.AddTag("p", "recipient-key")
	ev.AddTag("e", "reply-id", "wss://relay.example.com")

	if got := ev.Recipient(); got != "recipient-key" {
		t.Errorf("Recipient() = %q, want %q", got, "recipient-key")
	}
	if got := ev.TagValue("e"); got != "reply-id" {
		t.Errorf("TagValue(e) = %q, want %q", got, "reply-id")
	}
	if got := ev.TagValue("missing"); got != "" {
		t.Errorf("TagValue(missing) = %q, want empty", got)
	}
}
