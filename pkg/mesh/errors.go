package mesh

import "errors"

var (
	// ErrInvalidFingerprint is returned for malformed fingerprint strings.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrLinkNotFound is returned when no open link has the requested id.
	ErrLinkNotFound = errors.New("link not found")

	// ErrLinkClosed is returned when sending on a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrLinkPending is returned when sending on a link that has not
	// been activated yet.
	ErrLinkPending = errors.New("link not yet activated")

	// ErrIdentityMismatch is returned when a destination is registered
	// with an identity other than the host's.
	ErrIdentityMismatch = errors.New("destination identity does not match host identity")

	// ErrNoRoute is returned when a destination's peer addresses cannot
	// be resolved.
	ErrNoRoute = errors.New("no route to destination")

	// ErrEndpointClosed is returned by operations on a closed endpoint.
	ErrEndpointClosed = errors.New("endpoint closed")
)
