// Package netio builds the initial listening socket and outbound dialer
// threads spec.md §1 names as an external collaborator. Grounded in the
// teacher's startAcceptor (torrent/start.go, net.ListenTCP) and
// connectToPeer (transfer.go, net.DialTCP with a handshake deadline).
package netio

import (
	"fmt"
	"net"
	"time"

	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/logger"
)

// Server accepts inbound connections from peers listed after us in
// PeerInfo.cfg; Serve hands each socket to makeManager and runs the
// resulting *connection.Manager.
type Server struct {
	ln  net.Listener
	log logger.Logger
}

// Listen opens a TCP listener on port, mirroring the teacher's
// startAcceptor (torrent/start.go).
func Listen(port int, log logger.Logger) (*Server, error) {
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("netio: cannot listen on port %d: %w", port, err)
	}
	log.Notice("listening for peers on", ln.Addr())
	return &Server{ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until the listener is closed, handing each
// socket to makeManager (expectedPeerID is unknown on the accept side, so
// makeManager validates it against the peer roster once the handshake
// arrives).
func (s *Server) Serve(makeManager func(conn net.Conn) *connection.Manager) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.log.Debugln("accept loop exiting:", err)
			return
		}
		s.log.Infoln("accepted connection from", conn.RemoteAddr())
		m := makeManager(conn)
		go m.Run()
	}
}

// Dial connects out to hostname:port with a deadline for completing the
// handshake, mirroring the teacher's connectToPeer (transfer.go:
// "Give a minute for completing handshake").
func Dial(hostname string, port int, handshakeDeadline time.Duration) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", hostname, port)
	conn, err := net.DialTimeout("tcp4", addr, handshakeDeadline)
	if err != nil {
		return nil, fmt.Errorf("netio: cannot dial %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(handshakeDeadline)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
