package connection

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-swarm/swarmpeer/internal/bitfield"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/pieces"
	"github.com/go-swarm/swarmpeer/internal/protocol"
)

// fakeLocal is a single-piece, in-memory stand-in for localpeer.Manager.
type fakeLocal struct {
	mu      sync.Mutex
	have    bool
	content []byte

	terminated bool
}

func (f *fakeLocal) NumPieces() int { return 1 }

func (f *fakeLocal) HasLocalPiece(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.have
}

func (f *fakeLocal) LocalBitfield() bitfield.BitField {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := bitfield.New(nil, 1)
	if f.have {
		b.Set(0)
	}
	return b
}

func (f *fakeLocal) PieceContent(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.have {
		return nil
	}
	return f.content
}

func (f *fakeLocal) ChoosePieceToRequest(remote pieces.RemoteView) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.have && remote.HasPiece(0) {
		return 0
	}
	return -1
}

func (f *fakeLocal) SetLocalPiece(index int, status pieces.Status, content []byte, fromRemote bool, sourcePeerID int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == pieces.Have {
		f.have = true
		f.content = content
	}
}

func (f *fakeLocal) AttemptTerminate(conn *Manager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.have {
		f.terminated = true
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandshakeAndInterestExchange(t *testing.T) {
	connA, connB := net.Pipe()

	seeder := &fakeLocal{have: true, content: []byte("abcd")}
	leecher := &fakeLocal{}

	mgrA := New(connA, 1, 2, true, 1, seeder, nil, 0, 0, logger.New("test A"))
	mgrB := New(connB, 2, -1, false, 1, leecher, func(id int32) bool { return id == 1 }, 0, 0, logger.New("test B"))

	go mgrA.Run()
	go mgrB.Run()
	defer mgrA.Close()
	defer mgrB.Close()

	waitFor(t, func() bool { return mgrA.State.Active() && mgrB.State.Active() })
	waitFor(t, func() bool { return mgrA.State.Interested() })

	if !mgrB.State.RemoteHasPiece(0) {
		t.Fatal("B should have learned A's bitfield")
	}
}

func TestRequestPieceFlow(t *testing.T) {
	connA, connB := net.Pipe()

	seeder := &fakeLocal{have: true, content: []byte("abcd")}
	leecher := &fakeLocal{}

	mgrA := New(connA, 1, 2, true, 1, seeder, nil, 0, 0, logger.New("test A"))
	mgrB := New(connB, 2, -1, false, 1, leecher, func(id int32) bool { return id == 1 }, 0, 0, logger.New("test B"))

	go mgrA.Run()
	go mgrB.Run()
	defer mgrA.Close()
	defer mgrB.Close()

	waitFor(t, func() bool { return mgrA.State.Interested() })

	// Unchoke B so it can request: mirrors the choking scheduler's job.
	mgrA.State.SetLocalChoke(false)
	mgrA.Enqueue(protocol.Packet{Kind: protocol.Unchoke})

	waitFor(t, func() bool {
		leecher.mu.Lock()
		defer leecher.mu.Unlock()
		return leecher.have
	})
	waitFor(t, func() bool {
		leecher.mu.Lock()
		defer leecher.mu.Unlock()
		return leecher.terminated
	})
}
