package client

import (
	"sync"

	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

// ProfileCache holds known profiles keyed by public key and coalesces
// relay lookups: at most one fetch is outstanding per key no matter how
// many callers ask, and observers are notified once per update even when
// several relays return the same profile event.
type ProfileCache struct {
	mu       sync.Mutex
	profiles map[string]*protocol.Profile
	pending  map[string]struct{}

	// requestFetch asks the owning client to widen its relay
	// subscriptions to cover the listed authors
	requestFetch func(pubkeys []string)
}

// NewProfileCache creates an empty cache. requestFetch may be nil when
// no relay lookup path exists, lookups then stay cache-only.
func NewProfileCache(requestFetch func(pubkeys []string)) *ProfileCache {
	return &ProfileCache{
		profiles:     make(map[string]*protocol.Profile),
		pending:      make(map[string]struct{}),
		requestFetch: requestFetch,
	}
}

// Get returns the cached profile for pubkey, or nil if unknown. An
// unknown key triggers a relay fetch unless one is already outstanding.
func (pc *ProfileCache) Get(pubkey string) *protocol.Profile {
	pc.mu.Lock()
	if p, ok := pc.profiles[pubkey]; ok {
		pc.mu.Unlock()
		return p
	}
	_, fetching := pc.pending[pubkey]
	if !fetching {
		pc.pending[pubkey] = struct{}{}
	}
	fetch := pc.requestFetch
	wanted := pc.pendingKeysLocked()
	pc.mu.Unlock()

	if !fetching && fetch != nil {
		fetch(wanted)
	}
	return nil
}

// PendingKeys lists the keys with an outstanding fetch, used to build
// the profile subscription filter
func (pc *ProfileCache) PendingKeys() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.pendingKeysLocked()
}

func (pc *ProfileCache) pendingKeysLocked() []string {
	keys := make([]string, 0, len(pc.pending))
	for k := range pc.pending {
		keys = append(keys, k)
	}
	return keys
}

// Update stores a received profile and clears any outstanding fetch.
// It reports whether the cache actually changed, so callers notify
// observers exactly once when duplicates arrive from multiple relays.
func (pc *ProfileCache) Update(pubkey string, profile *protocol.Profile) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	delete(pc.pending, pubkey)
	if prev, ok := pc.profiles[pubkey]; ok && *prev == *profile {
		return false
	}
	pc.profiles[pubkey] = profile
	return true
}
