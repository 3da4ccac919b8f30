package connection

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/go-swarm/swarmpeer/internal/protocol"
)

// readBytes loops until n bytes are read or the stream signals EOF,
// per spec.md §4.2: "A short read does not abandon the frame — it retries."
func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := r.Read(buf[total:])
		total += k
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// listenLoop implements spec.md §4.2's listener protocol: read the 32-byte
// handshake, wait for it to be validated and latched, then read framed
// packets until the connection is deactivated or a read fails.
func (m *Manager) listenLoop() {
	defer m.Close()

	hsBytes, err := readBytes(m.conn, protocol.HandshakeLen)
	if err != nil {
		m.log.Debugln("handshake read failed:", err)
		return
	}
	if !m.handleHandshake(hsBytes) {
		return
	}

	m.State.WaitHandshake()
	if !m.State.Active() {
		return
	}
	// The dialer applies a deadline covering only the handshake window
	// (netio.Dial); clear it now that the long-lived per-frame deadline
	// below takes over.
	_ = m.conn.SetDeadline(time.Time{})

	for m.State.Active() {
		// Per-frame read deadline, mirroring the teacher's
		// connReadTimeout in rain/peer.go's run().
		if err := m.conn.SetReadDeadline(time.Now().Add(m.readTimeout)); err != nil {
			m.log.Debugln("set read deadline failed:", err)
			return
		}
		lenBytes, err := readBytes(m.conn, 4)
		if err != nil {
			m.log.Debugln("read error:", err)
			return
		}
		length := int32(binary.BigEndian.Uint32(lenBytes))
		if length < 1 {
			m.handle(protocol.Packet{Kind: protocol.Unknown})
			continue
		}
		body, err := readBytes(m.conn, int(length))
		if err != nil {
			m.log.Debugln("read error:", err)
			return
		}
		pkt := protocol.Parse(body, uint32(m.numPieces))
		m.handle(pkt)
	}
}
