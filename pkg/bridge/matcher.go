package bridge

import (
	"context"

	"github.com/VetheonGames/meshtun/pkg/mesh"
)

// AnnounceMatcher picks announces of one expected destination out of an
// announce stream.
type AnnounceMatcher struct {
	expected mesh.Fingerprint
}

// NewAnnounceMatcher creates a matcher for the given fingerprint.
func NewAnnounceMatcher(expected mesh.Fingerprint) *AnnounceMatcher {
	return &AnnounceMatcher{expected: expected}
}

// Matches reports whether ann is for the expected destination.
func (m *AnnounceMatcher) Matches(ann mesh.Announce) bool {
	return ann.Descriptor.Fingerprint == m.expected
}

// Next discards announces until one matches and returns its descriptor.
// It can be called again for the next match.
func (m *AnnounceMatcher) Next(ctx context.Context, announces <-chan mesh.Announce) (mesh.Descriptor, error) {
	for {
		select {
		case <-ctx.Done():
			return mesh.Descriptor{}, ctx.Err()
		case ann, ok := <-announces:
			if !ok {
				return mesh.Descriptor{}, ErrStreamClosed
			}
			if m.Matches(ann) {
				return ann.Descriptor, nil
			}
			log.Tracef("Ignoring announce for %s", ann.Descriptor.Fingerprint)
		}
	}
}
