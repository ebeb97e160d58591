package client

import (
	"log"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

// HandlerFunc processes one decoded payload from a peer
type HandlerFunc func(d *Decoded, ev *protocol.Event)

// Router dispatches decoded payloads by their type discriminator.
// Unknown types are dropped without error so older clients tolerate
// newer senders.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty dispatch table
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle registers the handler for a payload type, replacing any
// previous one
func (r *Router) Handle(payloadType string, fn HandlerFunc) {
	r.handlers[payloadType] = fn
}

// Dispatch routes a decoded payload to its handler. Call signals share
// one handler registered under each call payload type.
func (r *Router) Dispatch(d *Decoded, ev *protocol.Event) {
	fn, ok := r.handlers[d.Payload.Type]
	if !ok {
		log.Printf("⚠️ Dropping payload with unknown type %q from %s", d.Payload.Type, shortKey(d.Peer))
		return
	}
	fn(d, ev)
}

// shortKey truncates a public key for log lines
func shortKey(pubkey string) string {
	if len(pubkey) > 8 {
		return pubkey[:8]
	}
	return pubkey
}
