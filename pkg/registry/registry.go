// Package registry tracks which inbound link the server currently sends
// TUN traffic to.
package registry

import (
	"sync"
	"time"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

// LinkInfo describes a link the registry has seen activated.
type LinkInfo struct {
	ID          mesh.LinkID
	Fingerprint mesh.Fingerprint
	ActivatedAt time.Time
}

// LinkRegistry holds the current link slot. The most recently activated
// link wins. When clearOnClose is set, closing the current link empties
// the slot; closing any other link never touches it.
type LinkRegistry struct {
	mu           sync.RWMutex
	current      *mesh.LinkID
	links        map[mesh.LinkID]LinkInfo
	clearOnClose bool
	now          func() time.Time
}

// NewLinkRegistry creates an empty registry.
func NewLinkRegistry(clearOnClose bool) *LinkRegistry {
	return &LinkRegistry{
		links:        make(map[mesh.LinkID]LinkInfo),
		clearOnClose: clearOnClose,
		now:          time.Now,
	}
}

// Activate records id as active and makes it the current link.
func (r *LinkRegistry) Activate(id mesh.LinkID, fp mesh.Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.links[id] = LinkInfo{ID: id, Fingerprint: fp, ActivatedAt: r.now()}
	r.current = &id
}

// Close forgets id. It reports whether the current slot was cleared.
func (r *LinkRegistry) Close(id mesh.LinkID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.links, id)

	if r.clearOnClose && r.current != nil && *r.current == id {
		r.current = nil
		return true
	}
	return false
}

// Current returns the current link id, if any.
func (r *LinkRegistry) Current() (mesh.LinkID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return mesh.LinkID{}, false
	}
	return *r.current, true
}

// Active returns every link activated and not yet closed.
func (r *LinkRegistry) Active() []LinkInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]LinkInfo, 0, len(r.links))
	for _, info := range r.links {
		links = append(links, info)
	}
	return links
}
