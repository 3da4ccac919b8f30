// Package scheduler implements the choking scheduler of spec.md §4.6: two
// periodic loops, preferred-neighbor selection by download rate and
// optimistic unchoke by random choice, that decide which remote peers may
// pull pieces. Grounded in the teacher's startUnchokeTimers
// (torrent/start.go), which starts the analogous pair of tickers (10s
// unchoke, 30s optimistic unchoke) at torrent start; generalized here to
// spec.md's own configurable UnchokingInterval/OptimisticUnchokingInterval
// and termination-aware ranking rule.
package scheduler

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/protocol"
	"github.com/go-swarm/swarmpeer/internal/registry"
)

// Scheduler runs the preferred-neighbor and optimistic-unchoke loops.
type Scheduler struct {
	reg            *registry.Registry
	localComplete  func() bool
	numPreferred   int
	unchokeEvery   time.Duration
	optimisticEvery time.Duration
	log            logger.Logger
	rng            *rand.Rand

	mu               sync.Mutex
	optimisticPeerID int32
	hasOptimistic    bool

	stopC chan struct{}
	wg    sync.WaitGroup
}

// New builds a Scheduler. localComplete reports whether the local peer
// already holds every piece (spec.md §4.6 rule 1 vs rule 2).
func New(reg *registry.Registry, localComplete func() bool, numPreferred int, unchokeEvery, optimisticEvery time.Duration, log logger.Logger) *Scheduler {
	return &Scheduler{
		reg:             reg,
		localComplete:   localComplete,
		numPreferred:    numPreferred,
		unchokeEvery:    unchokeEvery,
		optimisticEvery: optimisticEvery,
		log:             log,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		stopC:           make(chan struct{}),
	}
}

// Start launches both periodic loops in their own goroutines.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.preferredNeighborLoop()
	go s.optimisticUnchokeLoop()
}

// Stop signals both loops to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.stopC)
	s.wg.Wait()
}

func (s *Scheduler) preferredNeighborLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.unchokeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.preferredNeighborTick()
		case <-s.stopC:
			return
		}
	}
}

func (s *Scheduler) optimisticUnchokeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.optimisticEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.optimisticUnchokeTick()
		case <-s.stopC:
			return
		}
	}
}

type candidate struct {
	peerID int32
	conn   *connection.Manager
	rate   int64
}

// preferredNeighborTick implements spec.md §4.6's preferred-neighbor loop.
func (s *Scheduler) preferredNeighborTick() {
	var interested []candidate
	all := s.reg.Snapshot()
	alreadyReset := make(map[int32]bool, len(all))
	for id, conn := range all {
		if !conn.State.Active() || !conn.State.Interested() {
			continue
		}
		interested = append(interested, candidate{peerID: id, conn: conn, rate: conn.State.TakeDownloaded()})
		alreadyReset[id] = true
	}

	s.shuffle(interested)
	if !s.localComplete() {
		sort.SliceStable(interested, func(i, j int) bool { return interested[i].rate > interested[j].rate })
	}
	// Complete case: interested is already in random order (shuffled above),
	// so taking the first k is a uniform random choice, per spec.md rule 2.

	k := s.numPreferred
	if k > len(interested) {
		k = len(interested)
	}
	top := make(map[int32]bool, k)
	for i := 0; i < k; i++ {
		top[interested[i].peerID] = true
	}

	optimisticID, hasOptimistic := s.currentOptimistic()
	for _, c := range interested {
		switch {
		case top[c.peerID]:
			if c.conn.State.LocalChoke() {
				c.conn.Enqueue(protocol.Packet{Kind: protocol.Unchoke})
				c.conn.State.SetLocalChoke(false)
			}
		case hasOptimistic && c.peerID == optimisticID:
			// Exempt the current optimistic unchoke from being choked.
		default:
			if !c.conn.State.LocalChoke() {
				c.conn.Enqueue(protocol.Packet{Kind: protocol.Choke})
				c.conn.State.SetLocalChoke(true)
			}
		}
	}

	// Reset every peer's downloadedBytes counter, not just the interested
	// ones, so the next interval measures fresh contribution from everyone.
	for id, conn := range all {
		if alreadyReset[id] {
			continue
		}
		conn.State.TakeDownloaded()
	}
}

// optimisticUnchokeTick implements spec.md §4.6's optimistic-unchoke loop.
func (s *Scheduler) optimisticUnchokeTick() {
	var chokedInterested []candidate
	for id, conn := range s.reg.Snapshot() {
		if !conn.State.Active() || !conn.State.Interested() {
			continue
		}
		if !conn.State.LocalChoke() {
			continue
		}
		chokedInterested = append(chokedInterested, candidate{peerID: id, conn: conn})
	}
	if len(chokedInterested) == 0 {
		return
	}
	pick := chokedInterested[s.rng.Intn(len(chokedInterested))]

	s.mu.Lock()
	prevID, hadPrev := s.optimisticPeerID, s.hasOptimistic
	s.optimisticPeerID = pick.peerID
	s.hasOptimistic = true
	s.mu.Unlock()

	if prevConn, ok := s.reg.Get(prevID); hadPrev && ok {
		prevConn.State.SetOptimistic(false)
	}
	pick.conn.State.SetOptimistic(true)
	pick.conn.Enqueue(protocol.Packet{Kind: protocol.Unchoke})
	pick.conn.State.SetLocalChoke(false)
}

func (s *Scheduler) currentOptimistic() (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimisticPeerID, s.hasOptimistic
}

func (s *Scheduler) shuffle(c []candidate) {
	s.rng.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
}
