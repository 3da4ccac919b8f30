package scheduler

import (
	"net"
	"testing"
	"time"

	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/registry"
)

// newTestConn builds a live (but otherwise idle) connection Manager for
// scheduler tests: handshake latched, local peer not invoked.
func newTestConn(t *testing.T, remoteID int32) *connection.Manager {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	m := connection.New(a, 1, remoteID, true, 1, nil, nil, 0, 0, logger.New("test"))
	m.State.CompleteHandshake()
	return m
}

func TestPreferredNeighborTickRanksByRate(t *testing.T) {
	reg := registry.New()
	fast := newTestConn(t, 2)
	mid := newTestConn(t, 3)
	slow := newTestConn(t, 4)
	for _, c := range []*connection.Manager{fast, mid, slow} {
		c.State.SetInterested(true)
		c.State.SetLocalChoke(true)
	}
	fast.State.AddDownloaded(100)
	mid.State.AddDownloaded(50)
	slow.State.AddDownloaded(10)
	reg.Add(2, fast)
	reg.Add(3, mid)
	reg.Add(4, slow)

	s := New(reg, func() bool { return false }, 2, time.Second, time.Second, logger.New("test"))
	s.preferredNeighborTick()

	if fast.State.LocalChoke() {
		t.Fatal("fastest peer should be unchoked")
	}
	if mid.State.LocalChoke() {
		t.Fatal("second-fastest peer should be unchoked")
	}
	if !slow.State.LocalChoke() {
		t.Fatal("slowest peer should remain choked")
	}
}

func TestPreferredNeighborTickResetsCounters(t *testing.T) {
	reg := registry.New()
	a := newTestConn(t, 2)
	a.State.SetInterested(true)
	a.State.AddDownloaded(42)
	reg.Add(2, a)

	s := New(reg, func() bool { return false }, 1, time.Second, time.Second, logger.New("test"))
	s.preferredNeighborTick()

	if a.State.TakeDownloaded() != 0 {
		t.Fatal("downloaded counter should have been reset by the tick")
	}
}

func TestOptimisticUnchokeTickPicksChokedInterested(t *testing.T) {
	reg := registry.New()
	choked := newTestConn(t, 2)
	choked.State.SetInterested(true)
	choked.State.SetLocalChoke(true)
	notInterested := newTestConn(t, 3)
	notInterested.State.SetLocalChoke(true)
	reg.Add(2, choked)
	reg.Add(3, notInterested)

	s := New(reg, func() bool { return false }, 1, time.Second, time.Second, logger.New("test"))
	s.optimisticUnchokeTick()

	if choked.State.LocalChoke() {
		t.Fatal("optimistic pick should be unchoked")
	}
	if !choked.State.Optimistic() {
		t.Fatal("optimistic pick should be flagged")
	}
	if notInterested.State.Optimistic() {
		t.Fatal("uninterested peer should never be picked")
	}
}

func TestOptimisticUnchokeRotatesPreviousPick(t *testing.T) {
	reg := registry.New()
	a := newTestConn(t, 2)
	a.State.SetInterested(true)
	a.State.SetLocalChoke(true)
	reg.Add(2, a)

	s := New(reg, func() bool { return false }, 1, time.Second, time.Second, logger.New("test"))
	s.optimisticUnchokeTick()
	if !a.State.Optimistic() {
		t.Fatal("a should be the optimistic pick")
	}

	b := newTestConn(t, 3)
	b.State.SetInterested(true)
	b.State.SetLocalChoke(true)
	reg.Add(3, b)
	// Remove a from consideration so the second tick is forced to pick b.
	a.State.SetInterested(false)

	s.optimisticUnchokeTick()
	if a.State.Optimistic() {
		t.Fatal("a should no longer hold the optimistic slot")
	}
	if !b.State.Optimistic() {
		t.Fatal("b should now hold the optimistic slot")
	}
}

func TestLocallyCompletePicksRandomlyNotByRate(t *testing.T) {
	// Ranked by rate, the high-rate peer a would win every trial; a uniform
	// random pick gives the low-rate peer b the slot in about half of them.
	lowRatePicked := false
	for trial := 0; trial < 64; trial++ {
		reg := registry.New()
		a := newTestConn(t, 2)
		a.State.SetInterested(true)
		a.State.AddDownloaded(1000)
		b := newTestConn(t, 3)
		b.State.SetInterested(true)
		b.State.AddDownloaded(1)
		reg.Add(2, a)
		reg.Add(3, b)

		s := New(reg, func() bool { return true }, 1, time.Second, time.Second, logger.New("test"))
		s.preferredNeighborTick()

		aUnchoked := !a.State.LocalChoke()
		bUnchoked := !b.State.LocalChoke()
		if aUnchoked == bUnchoked {
			t.Fatal("exactly one of the two peers should be unchoked")
		}
		if bUnchoked {
			lowRatePicked = true
		}
	}
	if !lowRatePicked {
		t.Fatal("low-rate peer never picked in 64 trials: ranking is by rate, not random")
	}
}
