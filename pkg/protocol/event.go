package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/ZentaChain/zentalk-client/pkg/crypto"
)

var (
	ErrInvalidEvent = errors.New("invalid event")
	ErrBadSignature = errors.New("bad event signature")
)

// Event is the immutable signed envelope exchanged through relays
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// serializeForID builds the canonical form the event id is derived from:
// a JSON array [0, pubkey, created_at, kind, tags, content]
func (ev *Event) serializeForID() ([]byte, error) {
	return json.Marshal([]interface{}{
		0,
		ev.PubKey,
		ev.CreatedAt,
		ev.Kind,
		ev.Tags,
		ev.Content,
	})
}

// ComputeID returns the content-derived identifier of the event
func (ev *Event) ComputeID() (string, error) {
	canonical, err := ev.serializeForID()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sign stamps pubkey, computes the id, and signs it with the identity key.
// CreatedAt must already be set.
func (ev *Event) Sign(kp *crypto.KeyPair) error {
	ev.PubKey = kp.PublicKey()
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}

	id, err := ev.ComputeID()
	if err != nil {
		return err
	}
	ev.ID = id

	digest, _ := hex.DecodeString(id)
	sig, err := kp.Sign(digest)
	if err != nil {
		return err
	}
	ev.Sig = sig
	return nil
}

// Verify checks that the id matches the content and the signature matches
// the author key
func (ev *Event) Verify() error {
	id, err := ev.ComputeID()
	if err != nil || id != ev.ID {
		return ErrInvalidEvent
	}

	digest, err := hex.DecodeString(ev.ID)
	if err != nil || len(digest) != sha256.Size {
		return ErrInvalidEvent
	}

	if !crypto.VerifySignature(ev.PubKey, ev.Sig, digest) {
		return ErrBadSignature
	}
	return nil
}

// TagValue returns the first value of the first tag with the given name,
// or "" when absent
func (ev *Event) TagValue(name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Recipient returns the public key in the "p" tag, the addressee of a
// direct message
func (ev *Event) Recipient() string {
	return ev.TagValue("p")
}

// AddTag appends a tag to the event. Only valid before signing.
func (ev *Event) AddTag(name string, values ...string) {
	ev.Tags = append(ev.Tags, append([]string{name}, values...))
}
