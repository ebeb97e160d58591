package protocol

// Filter is a relay-scoped subscription query. Zero-valued fields are
// omitted from the wire form and match everything.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	ETags   []string `json:"#e,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Matches reports whether an event satisfies the filter. Relays evaluate
// filters server-side; the client re-checks on delivery since no relay
// is trusted to filter correctly.
func (f *Filter) Matches(ev *Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.PTags) > 0 && !tagMatches(ev, "p", f.PTags) {
		return false
	}
	if len(f.ETags) > 0 && !tagMatches(ev, "e", f.ETags) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	return true
}

func tagMatches(ev *Event, name string, wanted []string) bool {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name && contains(wanted, tag[1]) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
