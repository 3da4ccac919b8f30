// Package pieces implements the local piece array described in spec.md §3:
// an ordered sequence of pieces, each HAVE/NOT_HAVE/REQUESTED, with the
// invariant that content is present iff the status is HAVE.
package pieces

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/go-swarm/swarmpeer/internal/bitfield"
)

// Status is a single piece's local state.
type Status int

const (
	NotHave Status = iota
	Have
	Requested
)

func (s Status) String() string {
	switch s {
	case NotHave:
		return "not_have"
	case Have:
		return "have"
	case Requested:
		return "requested"
	default:
		return "invalid"
	}
}

type piece struct {
	status  Status
	content []byte
}

// Array is the local peer's piece table. One process-wide lock guards all
// reads and writes, per spec.md §5: "Piece content payloads are immutable
// once written... release-acquire publication suffices", so content byte
// slices handed out by Content are safe to read without holding the lock
// after it has been observed as HAVE.
type Array struct {
	mu         sync.Mutex
	pieces     []piece
	pieceSize  int64
	fileSize   int64
	numPieces  int
}

// New builds an Array for numPieces pieces of pieceSize bytes each (the
// final piece is fileSize - (numPieces-1)*pieceSize bytes). seedFull, when
// true, marks every piece HAVE and fills it with content (the peer started
// owning the complete file); otherwise every piece starts NOT_HAVE.
func New(numPieces int, pieceSize, fileSize int64, seedFull bool, content [][]byte) *Array {
	a := &Array{
		pieces:    make([]piece, numPieces),
		pieceSize: pieceSize,
		fileSize:  fileSize,
		numPieces: numPieces,
	}
	if seedFull {
		for i := range a.pieces {
			a.pieces[i] = piece{status: Have, content: content[i]}
		}
	}
	return a
}

// Len returns the number of pieces.
func (a *Array) Len() int { return a.numPieces }

// PieceLen returns the length in bytes of piece i (the final piece may be
// shorter than pieceSize).
func (a *Array) PieceLen(i int) int64 {
	if i == a.numPieces-1 {
		return a.fileSize - int64(a.numPieces-1)*a.pieceSize
	}
	return a.pieceSize
}

// Status returns the current status of piece i.
func (a *Array) Status(i int) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pieces[i].status
}

// Content returns piece i's payload, or nil if not HAVE.
func (a *Array) Content(i int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pieces[i].status != Have {
		return nil
	}
	return a.pieces[i].content
}

// Set writes status and content for piece i under the array's lock. The
// caller (localpeer.Manager.SetLocalPiece) is responsible for the
// from-remote HAVE broadcast described in spec.md §4.5; Set only maintains
// the invariant status==Have iff content!=nil.
func (a *Array) Set(i int, status Status, content []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status == Have && content == nil {
		panic("pieces: HAVE status requires content")
	}
	if status != Have {
		content = nil
	}
	a.pieces[i] = piece{status: status, content: content}
}

// Bitfield returns a snapshot of the local HAVE/NOT_HAVE bitset (REQUESTED
// pieces count as NOT_HAVE on the wire, since HAVE packets only mean HAVE).
// Used to build our own BITFIELD packet at handshake time.
func (a *Array) Bitfield() bitfield.BitField {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := bitfield.New(nil, uint32(a.numPieces))
	for i, p := range a.pieces {
		if p.status == Have {
			b.Set(uint32(i))
		}
	}
	return b
}

// ChooseRequest implements spec.md §4.4's choosePieceToRequest: it returns an
// index i with local[i]=NOT_HAVE and remote[i]=HAVE, chosen uniformly at
// random among candidates, or -1 if none exists. On returning a valid index
// it atomically marks local[i]=REQUESTED under the same lock used to scan
// for candidates, so the same piece is never requested from two remotes
// concurrently (spec.md invariant 5).
func (a *Array) ChooseRequest(remote RemoteView) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var candidates []int
	for i, p := range a.pieces {
		if p.status == NotHave && remote.HasPiece(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	idx := candidates[rand.Intn(len(candidates))]
	a.pieces[idx].status = Requested
	return idx
}

// All reports whether every piece is HAVE.
func (a *Array) All() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pieces {
		if p.status != Have {
			return false
		}
	}
	return true
}

// Assemble concatenates every piece's content, truncated to fileSize. It
// panics if any piece is not HAVE; callers must only call this after All()
// is true.
func (a *Array) Assemble() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, 0, a.fileSize)
	for i, p := range a.pieces {
		if p.status != Have {
			panic(fmt.Sprintf("pieces: Assemble called with piece %d not HAVE", i))
		}
		out = append(out, p.content...)
	}
	if int64(len(out)) > a.fileSize {
		out = out[:a.fileSize]
	}
	return out
}
