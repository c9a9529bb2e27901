package cluster

import (
	"sort"
	"sync"
)

// AddressBook resolves node ids to RPC addresses.
//
// Static entries come from configuration; gossip entries are learned from
// Discovery and take precedence while the member is alive.
type AddressBook struct {
	discovery *Discovery

	mu     sync.RWMutex
	static map[string]Member
}

// NewAddressBook creates an address book. discovery may be nil.
func NewAddressBook(discovery *Discovery, static ...Member) *AddressBook {
	b := &AddressBook{
		discovery: discovery,
		static:    make(map[string]Member, len(static)),
	}
	for _, m := range static {
		b.static[m.ID] = m
	}
	return b
}

// Set adds or replaces a static entry.
func (b *AddressBook) Set(m Member) {
	b.mu.Lock()
	b.static[m.ID] = m
	b.mu.Unlock()
}

// Resolve returns the RPC address of a node.
func (b *AddressBook) Resolve(id string) (string, bool) {
	if b.discovery != nil {
		for _, m := range b.discovery.Members("") {
			if m.ID == id && m.RPCAddr != "" {
				return m.RPCAddr, true
			}
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.static[id]
	if !ok || m.RPCAddr == "" {
		return "", false
	}
	return m.RPCAddr, true
}

// IDs returns every known node id with the given role, sorted.
func (b *AddressBook) IDs(role string) []string {
	seen := make(map[string]struct{})
	if b.discovery != nil {
		for _, m := range b.discovery.Members(role) {
			seen[m.ID] = struct{}{}
		}
	}

	b.mu.RLock()
	for _, m := range b.static {
		if m.Role == role {
			seen[m.ID] = struct{}{}
		}
	}
	b.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
