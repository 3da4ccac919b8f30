package connection

import (
	"github.com/go-swarm/swarmpeer/internal/protocol"
)

// sendLoop implements spec.md §4.3's sender: drain the bounded outbound
// queue, build and write each packet atomically, flush. A build error is
// logged and dropped; a write error terminates the connection.
func (m *Manager) sendLoop() {
	for {
		select {
		case pkt := <-m.outbound:
			if err := m.writePacket(pkt); err != nil {
				m.log.Errorln("write error, closing connection:", err)
				m.Close()
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) writePacket(pkt protocol.Packet) error {
	wire, err := protocol.Build(pkt)
	if err != nil {
		m.log.Errorln("build error for", pkt.Kind, ":", err)
		return nil
	}
	_, err = m.conn.Write(wire)
	return err
}

// sendHandshake writes our own 32-byte handshake record.
func (m *Manager) sendHandshake() error {
	_, err := m.conn.Write(protocol.BuildHandshake(m.localID))
	return err
}
