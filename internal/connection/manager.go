package connection

import (
	"net"
	"time"

	"github.com/go-swarm/swarmpeer/internal/bitfield"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/pieces"
	"github.com/go-swarm/swarmpeer/internal/protocol"
)

// defaultOutboundQueueDepth bounds the sender's FIFO per spec.md §4.3
// ("bounded FIFO outbound queue") when New is given a non-positive queue
// depth. Overridable via the ambient overrides file; see internal/config.
const defaultOutboundQueueDepth = 64

// defaultReadTimeout is the per-frame socket read deadline used when New is
// given a non-positive timeout, mirroring the teacher's connReadTimeout in
// rain/peer.go.
const defaultReadTimeout = 3 * time.Minute

// LocalPeer is the narrow callback surface the local peer manager exposes to
// every connection's handler, per spec.md §4.5. Kept as an interface here
// (rather than importing package localpeer) to avoid an import cycle: the
// local peer manager owns the registry of connection Managers.
type LocalPeer interface {
	// SetLocalPiece writes status/content for index; when fromRemote and
	// status is Have it broadcasts HAVE(index) to every other connection
	// (besides sourcePeerID, the connection it arrived on) whose BITFIELD
	// has already been sent (spec.md §4.5). sourcePeerID is ignored when
	// fromRemote is false.
	SetLocalPiece(index int, status pieces.Status, content []byte, fromRemote bool, sourcePeerID int32)
	// ChoosePieceToRequest returns a piece index this peer wants and the
	// remote has, atomically marking it REQUESTED, or -1 if none exists
	// (spec.md §4.4).
	ChoosePieceToRequest(remote pieces.RemoteView) int
	// AttemptTerminate checks the swarm-wide termination condition after a
	// relevant state change on conn (spec.md §4.5).
	AttemptTerminate(conn *Manager)
	// NumPieces returns the total piece count.
	NumPieces() int
	// HasLocalPiece reports whether the local piece array already holds
	// piece i (status HAVE), used by the interest predicate.
	HasLocalPiece(i int) bool
	// LocalBitfield returns a snapshot of our own HAVE/NOT_HAVE bitfield for
	// sending as a BITFIELD packet during handshake.
	LocalBitfield() bitfield.BitField
	// PieceContent returns piece i's payload if we hold it, or nil.
	PieceContent(i int) []byte
}

// Manager drives one remote peer's connection: the listener loop (run
// inline in Run), the sender goroutine, and the packet handler. Grounded in
// the teacher's peerConn.run (rain/peer.go), generalized to spec.md's own
// message set and explicit choke/interest bookkeeping.
type Manager struct {
	conn   net.Conn
	State  *State
	local  LocalPeer
	log    logger.Logger

	localID        int32
	expectedPeerID int32 // -1 when unknown until handshake (accept side)
	validateRemote func(remoteID int32) bool
	initiator      bool
	numPieces      int

	outbound    chan protocol.Packet
	done        chan struct{}
	readTimeout time.Duration

	// Ready, if set, is called once handleHandshake succeeds, with the now-known
	// remote peer id. The accept side uses this to register the Manager in the
	// peer registry, since it cannot know the remote id up front the way the
	// dial side does.
	Ready func(remoteID int32, m *Manager)
}

// New builds a Manager for an already-connected socket. initiator is true
// when we dialed out (we send our handshake first); expectedPeerID is the
// remote id we expect when initiator is true, or -1 on the accept side, in
// which case validateRemote is consulted once the handshake arrives.
// outboundQueueDepth and readTimeout come from the ambient overrides file
// (internal/config); a non-positive value falls back to this package's
// built-in default.
func New(conn net.Conn, localID, expectedPeerID int32, initiator bool, numPieces int, local LocalPeer, validateRemote func(int32) bool, outboundQueueDepth int, readTimeout time.Duration, log logger.Logger) *Manager {
	if outboundQueueDepth <= 0 {
		outboundQueueDepth = defaultOutboundQueueDepth
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Manager{
		conn:           conn,
		State:          NewState(0, numPieces, log),
		local:          local,
		log:            log,
		localID:        localID,
		expectedPeerID: expectedPeerID,
		validateRemote: validateRemote,
		initiator:      initiator,
		numPieces:      numPieces,
		outbound:       make(chan protocol.Packet, outboundQueueDepth),
		done:           make(chan struct{}),
		readTimeout:    readTimeout,
	}
}

// Enqueue pushes a packet onto the outbound queue, blocking if full (spec.md
// §4.3: "blocking put, blocking take").
func (m *Manager) Enqueue(p protocol.Packet) {
	select {
	case m.outbound <- p:
	case <-m.done:
	}
}

// RemoteID returns the remote peer id once known (0 before handshake).
func (m *Manager) RemoteID() int32 { return m.State.RemotePeerID }

// Close tears down the connection: deactivates state, stops the sender, and
// closes the socket. Safe to call more than once.
func (m *Manager) Close() {
	m.State.Deactivate()
	m.State.mu.Lock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.State.mu.Unlock()
	_ = m.conn.Close()
}

// Run starts the sender goroutine and then runs the listener loop inline,
// per spec.md §5 ("one handler... invoked inline from listener — no extra
// thread needed"). When this connection was established by dialing out, our
// handshake is written immediately, matching the teacher's connectToPeer
// (transfer.go), which writes the handshake before waiting on the peer's
// reply. Run blocks until the connection ends; call it in its own
// goroutine.
func (m *Manager) Run() {
	if m.initiator {
		if err := m.sendHandshake(); err != nil {
			m.log.Errorln("handshake write failed:", err)
			m.Close()
			return
		}
	}
	go m.sendLoop()
	m.listenLoop()
}
