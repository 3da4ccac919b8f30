package connection

import (
	"github.com/go-swarm/swarmpeer/internal/pieces"
	"github.com/go-swarm/swarmpeer/internal/protocol"
)

// handleHandshake validates the 18-byte header and remote peer id from a
// raw 32-byte handshake record, per spec.md §4.4. Returns false on a
// terminal mismatch (the caller tears the connection down).
func (m *Manager) handleHandshake(raw []byte) bool {
	hs, err := protocol.ParseHandshake(raw)
	if err != nil {
		m.log.Errorln("handshake parse failed:", err)
		return false
	}

	if m.initiator {
		if hs.PeerID != m.expectedPeerID {
			m.log.Errorf("handshake mismatch: expected peer %d, got %d", m.expectedPeerID, hs.PeerID)
			return false
		}
	} else if m.validateRemote != nil && !m.validateRemote(hs.PeerID) {
		m.log.Errorf("handshake from unknown peer %d", hs.PeerID)
		return false
	}
	m.State.RemotePeerID = hs.PeerID

	if !m.initiator {
		// "reply with our own handshake if we did not initiate it"
		if err := m.sendHandshake(); err != nil {
			m.log.Errorln("handshake reply failed:", err)
			return false
		}
	}

	bf := m.local.LocalBitfield()
	if bf.Count() > 0 {
		m.Enqueue(protocol.Packet{Kind: protocol.Bitfield, Bits: bf})
	}
	m.State.MarkBitfieldSent()
	m.State.CompleteHandshake()
	if m.Ready != nil {
		m.Ready(hs.PeerID, m)
	}
	return true
}

// handle dispatches one decoded packet, per spec.md §4.4's table. Invoked
// inline from the listener loop; it never blocks except via Enqueue's
// bounded channel send.
func (m *Manager) handle(pkt protocol.Packet) {
	switch pkt.Kind {
	case protocol.Unknown:
		// malformed or unrecognized: log and drop.
		m.log.Debug("dropping unknown/malformed packet")
	case protocol.Choke:
		m.State.SetRemoteChoke(true)
	case protocol.Unchoke:
		m.State.SetRemoteChoke(false)
		m.requestNext()
	case protocol.Interested:
		m.State.SetInterested(true)
	case protocol.NotInterested:
		m.State.SetInterested(false)
	case protocol.Bitfield:
		m.State.ReplaceRemotePieces(pieces.NewRemoteViewFromBitfield(pkt.Bits))
		m.sendInterestUpdate()
	case protocol.Have:
		m.State.SetRemoteHave(int(pkt.Index))
		m.sendInterestUpdate()
		m.local.AttemptTerminate(m)
	case protocol.Request:
		m.handleRequest(int(pkt.Index))
	case protocol.Piece:
		m.handlePiece(int(pkt.Index), pkt.Content)
	}
}

// weHaveInterest reports whether the remote holds some piece we lack,
// per spec.md §4.4's interest predicate.
func (m *Manager) weHaveInterest() bool {
	n := m.local.NumPieces()
	for i := 0; i < n; i++ {
		if m.State.RemoteHasPiece(i) && !m.local.HasLocalPiece(i) {
			return true
		}
	}
	return false
}

func (m *Manager) sendInterestUpdate() {
	if m.weHaveInterest() {
		m.Enqueue(protocol.Packet{Kind: protocol.Interested})
	} else {
		m.Enqueue(protocol.Packet{Kind: protocol.NotInterested})
	}
}

func (m *Manager) handleRequest(index int) {
	if m.State.LocalChoke() {
		return // drop silently, spec.md §4.4
	}
	content := m.local.PieceContent(index)
	if content == nil {
		m.log.Errorf("cannot serve REQUEST for piece %d: piece not held", index)
		return // completed peer that can no longer provide it: log+skip, spec.md §7(e)
	}
	m.Enqueue(protocol.Packet{Kind: protocol.Piece, Index: int32(index), Content: content})

	// We just handed this piece to the remote directly: advance our view of
	// its availability the same way an inbound HAVE would, since a pure seed
	// serving a leech never itself receives HAVE or PIECE packets and would
	// otherwise never recompute interest or notice swarm termination.
	m.State.SetRemoteHave(index)
	m.sendInterestUpdate()
	m.local.AttemptTerminate(m)
}

func (m *Manager) handlePiece(index int, content []byte) {
	m.local.SetLocalPiece(index, pieces.Have, content, true, m.State.RemotePeerID)
	m.State.AddDownloaded(int64(len(content)))
	m.requestNext()
	m.sendInterestUpdate()
	m.local.AttemptTerminate(m)
}

// requestNext picks another piece we want and requests it, provided we
// remain unchoked, per spec.md §4.4 (the UNCHOKE and PIECE handlers both
// call this).
func (m *Manager) requestNext() {
	if m.State.RemoteChoke() {
		return
	}
	idx := m.local.ChoosePieceToRequest(m.State.RemotePiecesView())
	if idx < 0 {
		return
	}
	m.Enqueue(protocol.Packet{Kind: protocol.Request, Index: int32(idx)})
}
