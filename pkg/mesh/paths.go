package mesh

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// PathEntry records where a destination was last announced from.
type PathEntry struct {
	Fingerprint Fingerprint
	Name        DestinationName
	Peer        peer.ID
	Addrs       []multiaddr.Multiaddr
	LastSeen    time.Time
}

// pathTable maps destination fingerprints to the peers announcing them.
type pathTable struct {
	mu      sync.RWMutex
	paths   map[Fingerprint]*PathEntry
	timeout time.Duration
	now     func() time.Time
}

func newPathTable(timeout time.Duration) *pathTable {
	return &pathTable{
		paths:   make(map[Fingerprint]*PathEntry),
		timeout: timeout,
		now:     time.Now,
	}
}

// update adds or refreshes the path for an announced destination.
func (t *pathTable) update(desc Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paths[desc.Fingerprint] = &PathEntry{
		Fingerprint: desc.Fingerprint,
		Name:        desc.Name,
		Peer:        desc.Peer,
		Addrs:       desc.Addrs,
		LastSeen:    t.now(),
	}
}

// lookup returns the path for fp unless it has expired.
func (t *pathTable) lookup(fp Fingerprint) (PathEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.paths[fp]
	if !ok || t.now().Sub(entry.LastSeen) > t.timeout {
		return PathEntry{}, false
	}
	return *entry, true
}

// expire removes stale paths and returns how many were removed.
func (t *pathTable) expire() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for fp, entry := range t.paths {
		if now.Sub(entry.LastSeen) > t.timeout {
			log.Debugf("Removing stale path to %s via %s", fp, entry.Peer)
			delete(t.paths, fp)
			removed++
		}
	}
	return removed
}

// all returns a copy of every known path.
func (t *pathTable) all() []PathEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]PathEntry, 0, len(t.paths))
	for _, entry := range t.paths {
		result = append(result, *entry)
	}
	return result
}
