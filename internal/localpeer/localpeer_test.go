package localpeer

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/go-swarm/swarmpeer/internal/config"
	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/pieces"
	"github.com/go-swarm/swarmpeer/internal/protocol"
)

func testConfig() config.Common {
	return config.Common{
		NumberOfPreferredNeighbors: 1,
		FileName:                   "f.dat",
		FileSize:                   4,
		PieceSize:                  4,
	}
}

// attachFakeRemote wires a connection.Manager (accept side) for lp under
// remoteID, driven by a hand-rolled peer on the other end of a net.Pipe, and
// registers it in lp's registry once its handshake completes.
func attachFakeRemote(t *testing.T, lp *Manager, remoteID int32) (*connection.Manager, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	mgr := connection.New(serverConn, lp.LocalID, -1, false, lp.NumPieces(), lp,
		func(id int32) bool { return true }, 0, 0, logger.New("test"))
	mgr.Ready = func(id int32, m *connection.Manager) { lp.Registry.Add(id, m) }
	go mgr.Run()

	if _, err := clientConn.Write(protocol.BuildHandshake(remoteID)); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, protocol.HandshakeLen)
	if _, err := readFull(clientConn, reply); err != nil {
		t.Fatal(err)
	}
	if _, err := protocol.ParseHandshake(reply); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, func() bool {
		_, ok := lp.Registry.Get(remoteID)
		return ok
	})
	return mgr, clientConn
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func waitUntil(t *testing.T, cond func() bool) {
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

func readPacket(t *testing.T, conn net.Conn, deadline time.Duration) (protocol.Packet, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	lenBuf := make([]byte, 4)
	if _, err := readFull(conn, lenBuf); err != nil {
		return protocol.Packet{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	body := make([]byte, length)
	if _, err := readFull(conn, body); err != nil {
		return protocol.Packet{}, err
	}
	return protocol.Parse(body, 1), nil
}

func TestSetLocalPieceBroadcastsExceptSource(t *testing.T) {
	lp := New(1, testConfig(), false, nil, t.TempDir(), nil, logger.New("test"))

	_, connA := attachFakeRemote(t, lp, 10)
	_, connB := attachFakeRemote(t, lp, 11)
	_, connC := attachFakeRemote(t, lp, 12)
	defer connA.Close()
	defer connB.Close()
	defer connC.Close()

	lp.SetLocalPiece(0, pieces.Have, []byte("abcd"), true, 11)

	pktA, err := readPacket(t, connA, time.Second)
	if err != nil {
		t.Fatalf("peer 10 should have received a HAVE: %v", err)
	}
	if pktA.Kind != protocol.Have || pktA.Index != 0 {
		t.Fatalf("peer 10 got unexpected packet: %+v", pktA)
	}

	pktC, err := readPacket(t, connC, time.Second)
	if err != nil {
		t.Fatalf("peer 12 should have received a HAVE: %v", err)
	}
	if pktC.Kind != protocol.Have || pktC.Index != 0 {
		t.Fatalf("peer 12 got unexpected packet: %+v", pktC)
	}

	if _, err := readPacket(t, connB, 150*time.Millisecond); err == nil {
		t.Fatal("source peer 11 should not have received its own HAVE back")
	}
}

func TestAttemptTerminateRequiresAllRemotesComplete(t *testing.T) {
	lp := New(1, testConfig(), false, nil, t.TempDir(), nil, logger.New("test"))
	mgr, conn := attachFakeRemote(t, lp, 10)
	defer conn.Close()

	lp.SetLocalPiece(0, pieces.Have, []byte("abcd"), false, 0)
	lp.AttemptTerminate(mgr)
	select {
	case <-lp.Done:
		t.Fatal("should not terminate while the remote view is incomplete")
	case <-time.After(100 * time.Millisecond):
	}

	mgr.State.SetRemoteHave(0)
	lp.AttemptTerminate(mgr)

	select {
	case <-lp.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("should terminate once every local piece and every remote view is complete")
	}
	if lp.Summary.PeerID != 1 {
		t.Fatalf("unexpected summary: %+v", lp.Summary)
	}
}
