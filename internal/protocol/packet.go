// Package protocol implements the wire codec described in spec.md §4.1: a
// fixed 32-byte handshake record plus eight length-prefixed packet kinds.
// Framing follows the teacher's peerConn.run loop in rain/peer.go, which
// reads a 4-byte big-endian length then a 1-byte message type off the wire.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-swarm/swarmpeer/internal/bitfield"
)

// Kind identifies a packet's message type.
type Kind byte

const (
	Choke Kind = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Unknown Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	default:
		return "unknown"
	}
}

// handshakeHeader is the literal 18-byte protocol identifier required at the
// start of every handshake record.
const handshakeHeader = "P2PFILESHARINGPROJ"

const (
	handshakeHeaderLen = 18
	handshakeZeroLen   = 10
	handshakeIDLen     = 4
	HandshakeLen       = handshakeHeaderLen + handshakeZeroLen + handshakeIDLen // 32
)

// unsetIndex is the sentinel used for a not-yet-chosen piece index.
const unsetIndex = -1

var (
	// ErrBadIndex is returned by Build when a HAVE or REQUEST packet carries
	// the unset sentinel index.
	ErrBadIndex = errors.New("protocol: piece index not set")
	// ErrShortPayload is returned by decodeIndex when a HAVE or REQUEST body
	// is not exactly 4 bytes; Parse turns it into an Unknown packet.
	ErrShortPayload = errors.New("protocol: payload too short")
)

// Handshake is the fixed 32-byte record exchanged before any framed packet.
type Handshake struct {
	PeerID int32
}

// BuildHandshake serializes a handshake record for peerID.
func BuildHandshake(peerID int32) []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, []byte(handshakeHeader)...)
	buf = append(buf, make([]byte, handshakeZeroLen)...)
	idBuf := make([]byte, handshakeIDLen)
	binary.BigEndian.PutUint32(idBuf, uint32(peerID))
	buf = append(buf, idBuf...)
	return buf
}

// ParseHandshake validates and decodes a 32-byte handshake record.
func ParseHandshake(b []byte) (Handshake, error) {
	if len(b) != HandshakeLen {
		return Handshake{}, fmt.Errorf("protocol: handshake must be %d bytes, got %d", HandshakeLen, len(b))
	}
	if !bytes.Equal(b[:handshakeHeaderLen], []byte(handshakeHeader)) {
		return Handshake{}, fmt.Errorf("protocol: bad handshake header %q", b[:handshakeHeaderLen])
	}
	id := int32(binary.BigEndian.Uint32(b[handshakeHeaderLen+handshakeZeroLen:]))
	return Handshake{PeerID: id}, nil
}

// Packet is a decoded (or Unknown) framed message.
type Packet struct {
	Kind    Kind
	Index   int32           // HAVE, REQUEST, PIECE
	Bits    bitfield.BitField // BITFIELD
	Content []byte          // PIECE
}

// Build serializes p into its framed wire form: [4-byte length][1-byte
// kind][payload]. Length covers the kind byte plus payload.
func Build(p Packet) ([]byte, error) {
	var payload []byte
	switch p.Kind {
	case Choke, Unchoke, Interested, NotInterested:
		// empty payload
	case Have:
		if p.Index == unsetIndex {
			return nil, ErrBadIndex
		}
		payload = encodeIndex(p.Index)
	case Bitfield:
		payload = p.Bits.Bytes()
	case Request:
		if p.Index == unsetIndex {
			return nil, ErrBadIndex
		}
		payload = encodeIndex(p.Index)
	case Piece:
		payload = make([]byte, 4+len(p.Content))
		binary.BigEndian.PutUint32(payload, uint32(p.Index))
		copy(payload[4:], p.Content)
	default:
		return nil, fmt.Errorf("protocol: cannot build kind %v", p.Kind)
	}

	out := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(out, uint32(1+len(payload)))
	out[4] = byte(p.Kind)
	copy(out[5:], payload)
	return out, nil
}

func encodeIndex(i int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

// Parse decodes a packet payload (the bytes following the 4-byte length
// header: 1 type byte plus the rest). numPieces sizes a BITFIELD decode. A
// length shorter than 1, an unrecognized type, or a malformed body yields
// Packet{Kind: Unknown} — callers drop Unknown silently per
// spec.md §4.1.
func Parse(payload []byte, numPieces uint32) Packet {
	if len(payload) < 1 {
		return Packet{Kind: Unknown}
	}
	kind := Kind(payload[0])
	body := payload[1:]

	switch kind {
	case Choke, Unchoke, Interested, NotInterested:
		return Packet{Kind: kind}
	case Have:
		idx, err := decodeIndex(body)
		if err != nil {
			return Packet{Kind: Unknown}
		}
		return Packet{Kind: Have, Index: idx}
	case Request:
		idx, err := decodeIndex(body)
		if err != nil {
			return Packet{Kind: Unknown}
		}
		return Packet{Kind: Request, Index: idx}
	case Bitfield:
		want := numBytesFor(numPieces)
		if len(body) != want {
			return Packet{Kind: Unknown}
		}
		return Packet{Kind: Bitfield, Bits: bitfield.New(body, numPieces)}
	case Piece:
		if len(body) < 4 {
			return Packet{Kind: Unknown}
		}
		idx := int32(binary.BigEndian.Uint32(body))
		content := make([]byte, len(body)-4)
		copy(content, body[4:])
		return Packet{Kind: Piece, Index: idx, Content: content}
	default:
		return Packet{Kind: Unknown}
	}
}

func decodeIndex(body []byte) (int32, error) {
	if len(body) != 4 {
		return 0, ErrShortPayload
	}
	return int32(binary.BigEndian.Uint32(body)), nil
}

func numBytesFor(numPieces uint32) int {
	return int((numPieces + 7) / 8)
}
