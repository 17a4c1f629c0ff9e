package mesh

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/crypto"
	mh "github.com/multiformats/go-multihash"
)

const (
	// FingerprintLength is the size in bytes of a destination fingerprint.
	FingerprintLength = 20

	// nameHashLength is the size of the truncated destination name hash
	// mixed into a fingerprint.
	nameHashLength = 10
)

// Fingerprint identifies a destination on the mesh. Two fingerprints are
// equal only if every byte matches.
type Fingerprint [FingerprintLength]byte

// ParseFingerprint decodes a hex encoded fingerprint. Surrounding
// whitespace and an optional angle bracket wrapping are tolerated; the
// decoded value must be exactly FingerprintLength bytes.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")

	raw, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	if len(raw) != FingerprintLength {
		return fp, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidFingerprint, len(raw), FingerprintLength)
	}

	copy(fp[:], raw)
	return fp, nil
}

// String returns the hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// CID returns the content identifier under which the destination is
// provided on the DHT.
func (f Fingerprint) CID() (cid.Cid, error) {
	hash, err := mh.Sum(f[:], mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, hash), nil
}

// DestinationName is the dotted application name of a destination, for
// example "meshtun.server".
type DestinationName struct {
	App     string
	Aspects []string
}

// NewDestinationName creates a destination name.
func NewDestinationName(app string, aspects ...string) DestinationName {
	return DestinationName{App: app, Aspects: aspects}
}

// ParseDestinationName splits a dotted name into app and aspects.
func ParseDestinationName(s string) (DestinationName, error) {
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return DestinationName{}, fmt.Errorf("invalid destination name %q", s)
		}
	}
	return NewDestinationName(parts[0], parts[1:]...), nil
}

// String returns the dotted form of the name.
func (n DestinationName) String() string {
	return strings.Join(append([]string{n.App}, n.Aspects...), ".")
}

func (n DestinationName) hash() [nameHashLength]byte {
	var out [nameHashLength]byte
	sum := sha256.Sum256([]byte(n.String()))
	copy(out[:], sum[:nameHashLength])
	return out
}

// FingerprintFor derives the fingerprint of the destination that pub
// registers under name.
func FingerprintFor(pub crypto.PubKey, name DestinationName) (Fingerprint, error) {
	var fp Fingerprint

	raw, err := pub.Raw()
	if err != nil {
		return fp, fmt.Errorf("failed to read public key: %w", err)
	}

	nameHash := name.hash()
	h := sha256.New()
	h.Write(nameHash[:])
	h.Write(raw)
	copy(fp[:], h.Sum(nil))
	return fp, nil
}
