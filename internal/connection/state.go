// Package connection implements the per-remote-peer connection manager:
// shared state plus the listener/sender/handler trio described in spec.md
// §4.2-§4.4. It is grounded in the teacher's peerConn (rain/peer.go), which
// keeps the same choke/interest booleans and a mutex-protected latch for the
// handshake, generalized here to the spec's own message taxonomy.
package connection

import (
	"sync"

	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/pieces"
)

// State is one remote peer's connection-scoped state, shared between that
// peer's listener, sender and handler. A single mutex protects every field;
// the handshake latch is a condition variable on the same lock, matching
// spec.md §5 ("the handshake latch is a condition variable on that lock").
type State struct {
	mu sync.Mutex
	cv *sync.Cond

	RemotePeerID int32
	RemotePieces pieces.RemoteView

	handshakeComplete bool
	connectionActive  bool

	localChoke  bool
	remoteChoke bool
	interested  bool
	sentBitfield bool

	downloadedBytes int64

	// optimistic marks this connection as the current optimistic-unchoke
	// slot; only the scheduler package writes it, under mu.
	optimistic bool

	log logger.Logger
}

// NewState builds connection state for remotePeerID, tracking numPieces
// pieces. localChoke and remoteChoke both start true per spec.md §3's
// implicit "choked by default" convention (mirroring the teacher's
// peerConn, which constructs amChoking/peerChoking true).
func NewState(remotePeerID int32, numPieces int, log logger.Logger) *State {
	s := &State{
		RemotePeerID: remotePeerID,
		RemotePieces: pieces.NewRemoteView(numPieces),
		localChoke:   true,
		remoteChoke:  true,
		log:          log,
	}
	s.cv = sync.NewCond(&s.mu)
	return s
}

// CompleteHandshake latches handshakeComplete (idempotent: NOT_HANDSHAKEN ->
// HANDSHAKEN only, per spec.md §3) and wakes any listener blocked in
// WaitHandshake.
func (s *State) CompleteHandshake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handshakeComplete {
		return
	}
	s.handshakeComplete = true
	s.connectionActive = true
	s.cv.Broadcast()
}

// WaitHandshake blocks until CompleteHandshake has latched, or returns
// immediately if it already has.
func (s *State) WaitHandshake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.handshakeComplete {
		s.cv.Wait()
	}
}

// Active reports whether the connection is still live.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionActive
}

// Deactivate sets connectionActive false, ending both the listener and the
// sender per spec.md §3.
func (s *State) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionActive = false
	// Waiters woken here re-check the latch; WaitHandshake keeps waiting until
	// CompleteHandshake runs and does not return on deactivation alone.
	s.cv.Broadcast()
}

// SetRemoteChoke sets whether the remote is choking us.
func (s *State) SetRemoteChoke(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteChoke = v
}

// RemoteChoke reports whether the remote is choking us.
func (s *State) RemoteChoke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteChoke
}

// SetLocalChoke sets whether we are choking the remote. Per spec.md §4.6,
// only the choking scheduler's two loops call this.
func (s *State) SetLocalChoke(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localChoke = v
}

// LocalChoke reports whether we are choking the remote.
func (s *State) LocalChoke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localChoke
}

// SetInterested sets whether the remote has declared interest in us.
func (s *State) SetInterested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interested = v
}

// Interested reports whether the remote has declared interest in us.
func (s *State) Interested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interested
}

// MarkBitfieldSent records that our BITFIELD has gone out, satisfying the
// invariant that HAVE packets may only follow it.
func (s *State) MarkBitfieldSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentBitfield = true
}

// BitfieldSent reports whether our BITFIELD has been sent yet.
func (s *State) BitfieldSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sentBitfield
}

// AddDownloaded increments the downloaded-bytes counter by n.
func (s *State) AddDownloaded(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadedBytes += n
}

// TakeDownloaded returns the current downloaded-bytes counter and resets it
// to zero. Called once per unchoking interval by the scheduler.
func (s *State) TakeDownloaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.downloadedBytes
	s.downloadedBytes = 0
	return v
}

// SetOptimistic marks or unmarks this connection as the current optimistic
// slot.
func (s *State) SetOptimistic(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimistic = v
}

// Optimistic reports whether this connection currently holds the
// optimistic-unchoke slot.
func (s *State) Optimistic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimistic
}

// RemotePiecesView returns the current remote piece view, read under lock.
// The returned view shares its bit storage with the state, so a later
// SetRemoteHave is visible through it and is not synchronized with reads of
// it.
func (s *State) RemotePiecesView() pieces.RemoteView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RemotePieces
}

// ReplaceRemotePieces swaps the remote piece view wholesale (BITFIELD
// arrival).
func (s *State) ReplaceRemotePieces(v pieces.RemoteView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemotePieces = v
}

// SetRemoteHave marks index i HAVE in the remote view (HAVE packet arrival).
func (s *State) SetRemoteHave(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RemotePieces.SetHave(i)
}

// RemoteHasAll reports whether the remote view has every piece, used by
// attemptTerminate.
func (s *State) RemoteHasAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RemotePieces.All()
}

// RemoteHasPiece reports whether the remote view holds piece i. Takes the
// connection lock so it is safe to call from any goroutine, not just the
// handler thread.
func (s *State) RemoteHasPiece(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RemotePieces.HasPiece(i)
}
