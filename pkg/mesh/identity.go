package mesh

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/hkdf"
)

const identitySalt = "meshtun identity v1"

// Identity is the ed25519 key pair a node announces and links with.
type Identity struct {
	priv crypto.PrivKey
}

// NewIdentity generates a random identity.
func NewIdentity() (*Identity, error) {
	return newIdentity(rand.Reader)
}

// IdentityFromName derives a stable identity from a name, so a node keeps
// the same fingerprints across restarts without a key file.
func IdentityFromName(name string) (*Identity, error) {
	if name == "" {
		return nil, fmt.Errorf("identity name must not be empty")
	}
	return newIdentity(hkdf.New(sha256.New, []byte(name), []byte(identitySalt), nil))
}

// IdentityFromKey wraps an existing private key.
func IdentityFromKey(priv crypto.PrivKey) *Identity {
	return &Identity{priv: priv}
}

func newIdentity(src io.Reader) (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(src)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return &Identity{priv: priv}, nil
}

// PrivKey returns the private key, for use as the libp2p host identity.
func (id *Identity) PrivKey() crypto.PrivKey {
	return id.priv
}

// PubKey returns the public key.
func (id *Identity) PubKey() crypto.PubKey {
	return id.priv.GetPublic()
}

// PeerID returns the libp2p peer id of the identity.
func (id *Identity) PeerID() (peer.ID, error) {
	return peer.IDFromPublicKey(id.PubKey())
}
