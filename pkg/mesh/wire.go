package mesh

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	// LinkProtocolID is the stream protocol links are carried on.
	LinkProtocolID protocol.ID = "/meshtun/link/1.0.0"

	// LinkIDLength is the size in bytes of a link id.
	LinkIDLength = 16

	nonceLength = 16

	// MaxFramePayload is the largest payload a single frame can carry.
	MaxFramePayload = 1<<16 - 1

	frameHeaderLength = 3
)

// frameType tags every frame on a link stream.
type frameType byte

const (
	frameLinkRequest frameType = iota + 1
	frameLinkProof
	frameData
	frameTeardown
)

func (t frameType) String() string {
	switch t {
	case frameLinkRequest:
		return "request"
	case frameLinkProof:
		return "proof"
	case frameData:
		return "data"
	case frameTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// LinkID identifies a link on both of its ends.
type LinkID [LinkIDLength]byte

// String returns the hex encoding of the link id.
func (id LinkID) String() string {
	return hex.EncodeToString(id[:])
}

// linkIDFor derives the link id both ends agree on from the request payload.
func linkIDFor(request []byte) LinkID {
	var id LinkID
	sum := sha256.Sum256(request)
	copy(id[:], sum[:LinkIDLength])
	return id
}

// writeFrame writes type(1) | length(2, big endian) | payload.
func writeFrame(w io.Writer, t frameType, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, frameHeaderLength+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint16(buf[1:frameHeaderLength], uint16(len(payload)))
	copy(buf[frameHeaderLength:], payload)

	_, err := w.Write(buf)
	return err
}

// readFrame reads one frame. The returned payload is freshly allocated.
func readFrame(r io.Reader) (frameType, []byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint16(header[1:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("failed to read %s frame: %w", frameType(header[0]), err)
	}
	return frameType(header[0]), payload, nil
}

// linkRequest is the first frame an initiator sends.
type linkRequest struct {
	Fingerprint Fingerprint
	Nonce       [nonceLength]byte
}

func (r linkRequest) encode() []byte {
	buf := make([]byte, 0, FingerprintLength+nonceLength)
	buf = append(buf, r.Fingerprint[:]...)
	return append(buf, r.Nonce[:]...)
}

func decodeLinkRequest(payload []byte) (linkRequest, error) {
	var req linkRequest
	if len(payload) != FingerprintLength+nonceLength {
		return req, fmt.Errorf("malformed link request: %d bytes", len(payload))
	}
	copy(req.Fingerprint[:], payload[:FingerprintLength])
	copy(req.Nonce[:], payload[FingerprintLength:])
	return req, nil
}
