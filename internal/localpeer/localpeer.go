// Package localpeer implements the local peer manager of spec.md §4.5: it
// owns the local piece array, the configuration, and the registry of
// connection managers, and decides swarm termination. Grounded in the
// teacher's transfer (transfer.go), which plays the same role for a single
// torrent — owning pieces, a peer registry and the Run loop that reacts to
// piece-arrival events — generalized here from BitTorrent's
// tracker/info-hash model to the static, fully-connected swarm spec.md
// describes.
package localpeer

import (
	"sync"
	"time"

	"github.com/go-swarm/swarmpeer/internal/audit"
	"github.com/go-swarm/swarmpeer/internal/bitfield"
	"github.com/go-swarm/swarmpeer/internal/config"
	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/pieces"
	"github.com/go-swarm/swarmpeer/internal/protocol"
	"github.com/go-swarm/swarmpeer/internal/registry"
	"github.com/go-swarm/swarmpeer/internal/storage"
)

// Manager is the local peer manager. It implements connection.LocalPeer.
type Manager struct {
	LocalID int32
	Cfg     config.Common
	OutDir  string

	pieces   *pieces.Array
	Registry *registry.Registry
	ledger   *audit.Ledger // nil disables the audit ledger
	log      logger.Logger

	startedAt time.Time

	receivedMu   sync.Mutex
	receivedFrom map[int32]int // per-source-peer PIECE counts, for the termination summary

	terminateOnce sync.Once
	Done          chan struct{} // closed once swarm termination fires
	Summary       Summary
}

// Summary is the final swarm-termination report, printed as pretty JSON by
// cmd/swarmpeer.
type Summary struct {
	PeerID          int32         `json:"peer_id"`
	NumberOfPieces  int           `json:"number_of_pieces"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	ReceivedByPeer  map[int32]int `json:"received_by_peer"`
	OutputFile      string        `json:"output_file"`
	ManifestFile    string        `json:"manifest_file"`
}

// New builds a Manager. seedFull indicates this peer starts owning the
// complete file (PeerInfo.cfg's hasFile=1); content must hold every piece's
// bytes when seedFull is true.
func New(localID int32, cfg config.Common, seedFull bool, content [][]byte, outDir string, ledger *audit.Ledger, log logger.Logger) *Manager {
	return &Manager{
		LocalID:      localID,
		Cfg:          cfg,
		OutDir:       outDir,
		pieces:       pieces.New(cfg.NumberOfPieces(), cfg.PieceSize, cfg.FileSize, seedFull, content),
		Registry:     registry.New(),
		ledger:       ledger,
		log:          log,
		startedAt:    time.Now(),
		receivedFrom: make(map[int32]int),
		Done:         make(chan struct{}),
	}
}

// NumPieces implements connection.LocalPeer.
func (m *Manager) NumPieces() int { return m.pieces.Len() }

// HasLocalPiece implements connection.LocalPeer.
func (m *Manager) HasLocalPiece(i int) bool { return m.pieces.Status(i) == pieces.Have }

// LocalBitfield implements connection.LocalPeer.
func (m *Manager) LocalBitfield() bitfield.BitField { return m.pieces.Bitfield() }

// PieceContent implements connection.LocalPeer.
func (m *Manager) PieceContent(i int) []byte { return m.pieces.Content(i) }

// LocalComplete reports whether the local peer already holds every piece,
// used by the scheduler to choose its ranking rule (spec.md §4.6).
func (m *Manager) LocalComplete() bool { return m.pieces.All() }

// ChoosePieceToRequest implements connection.LocalPeer, per spec.md §4.4/§4.5.
func (m *Manager) ChoosePieceToRequest(remote pieces.RemoteView) int {
	return m.pieces.ChooseRequest(remote)
}

// SetLocalPiece implements connection.LocalPeer, per spec.md §4.5: a
// write-through under the piece array's lock; when fromRemote and status is
// HAVE it broadcasts HAVE(index) to every other connection (excluding
// sourcePeerID, the connection the piece arrived on) whose BITFIELD has
// already been sent.
func (m *Manager) SetLocalPiece(index int, status pieces.Status, content []byte, fromRemote bool, sourcePeerID int32) {
	m.pieces.Set(index, status, content)
	if !fromRemote || status != pieces.Have {
		return
	}

	if m.ledger != nil {
		if err := m.ledger.RecordCompletion(index, sourcePeerID, time.Now()); err != nil {
			m.log.Errorln("audit: failed to record piece", index, ":", err)
		}
	}
	m.receivedMu.Lock()
	m.receivedFrom[sourcePeerID]++
	m.receivedMu.Unlock()

	m.Registry.Each(func(peerID int32, conn *connection.Manager) {
		if peerID == sourcePeerID {
			return
		}
		if !conn.State.BitfieldSent() {
			return
		}
		conn.Enqueue(protocol.Packet{Kind: protocol.Have, Index: int32(index)})
	})
}

// AttemptTerminate implements connection.LocalPeer, per spec.md §4.5: if
// every local piece is HAVE and every active remote view is all-HAVE, shut
// the swarm down, persist the file, and signal Done exactly once.
func (m *Manager) AttemptTerminate(_ *connection.Manager) {
	if !m.pieces.All() {
		return
	}
	allRemoteComplete := true
	m.Registry.Each(func(_ int32, conn *connection.Manager) {
		if !conn.State.Active() {
			return
		}
		if !conn.State.RemoteHasAll() {
			allRemoteComplete = false
		}
	})
	if !allRemoteComplete {
		return
	}
	m.terminate()
}

func (m *Manager) terminate() {
	m.terminateOnce.Do(func() {
		m.log.Notice("swarm complete, shutting down")
		m.Registry.Each(func(_ int32, conn *connection.Manager) {
			conn.Close()
		})

		content := m.pieces.Assemble()
		outPath, err := storage.WriteFile(m.OutDir, m.LocalID, m.Cfg.FileName, content)
		if err != nil {
			m.log.Errorln("failed to persist reconstructed file:", err)
		}
		manifestPath, err := storage.WriteManifest(m.OutDir, m.LocalID,
			storage.NewManifest(m.Cfg.FileName, m.Cfg.FileSize, m.Cfg.PieceSize, m.Cfg.NumberOfPieces(), m.LocalID))
		if err != nil {
			m.log.Errorln("failed to write completion manifest:", err)
		}

		m.receivedMu.Lock()
		received := make(map[int32]int, len(m.receivedFrom))
		for k, v := range m.receivedFrom {
			received[k] = v
		}
		m.receivedMu.Unlock()

		m.Summary = Summary{
			PeerID:         m.LocalID,
			NumberOfPieces: m.pieces.Len(),
			Elapsed:        time.Since(m.startedAt),
			ReceivedByPeer: received,
			OutputFile:     outPath,
			ManifestFile:   manifestPath,
		}
		close(m.Done)
	})
}
