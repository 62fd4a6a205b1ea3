package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddirect/container/ttlmap"
	"github.com/iat-probe/internal/iat"
	"github.com/iat-probe/internal/protocol"
	"github.com/iat-probe/internal/socket"
)

const (
	recvQueueDepth = 16

	// peerExpiryAccuracy bounds how far past its TTL an idle peer may linger
	peerExpiryAccuracy = time.Second
)

type expiredPeers = iter.Seq[ttlmap.Item[string, *Session]]

type datagram struct {
	data []byte
	at   time.Time
	from *net.UDPAddr
}

// UDPServer acknowledges every datagram with its packet index and IAT, echoing
// the original payload.
//
// By default one session is shared by every peer of the socket: interleaved
// peers advance the same counter and their IATs are measured against each
// other. Set UDP.PerPeer to key sessions by peer address instead.
type UDPServer struct {
	config   *Config
	logger   *slog.Logger
	sessions *SessionManager
	clock    iat.Clock
	sink     Sink
	conn     *net.UDPConn
	shared   *Session
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Statistics
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	responsesSent   atomic.Uint64
	sendErrors      atomic.Uint64
}

// NewUDPServer creates a new UDP server
func NewUDPServer(config *Config, logger *slog.Logger, opts ...Option) *UDPServer {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:   config,
		logger:   logger.With("role", "udp-server"),
		sessions: NewSessionManager(logger),
		clock:    o.clock,
		sink:     o.sink,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the socket and runs the receive loop in the background
func (s *UDPServer) Start(port int) error {
	conn, err := socket.ListenUDP(port)
	if err != nil {
		return fmt.Errorf("failed to bind port %d: %w", port, err)
	}
	s.conn = conn

	s.logger.Info("UDP server listening",
		"addr", conn.LocalAddr().String(),
		"per_peer", s.config.UDP.PerPeer,
	)

	recvCh := make(chan datagram, recvQueueDepth)

	s.wg.Add(2)
	go s.receiver(recvCh)
	if s.config.UDP.PerPeer {
		go s.servePerPeer(recvCh)
	} else {
		s.shared = s.openSession(conn.LocalAddr().String())
		go s.serveShared(recvCh)
	}

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Sessions returns the registry of tracked sessions
func (s *UDPServer) Sessions() *SessionManager {
	return s.sessions
}

// Stop closes the socket and waits for the loops to return
func (s *UDPServer) Stop() error {
	s.logger.Info("stopping UDP server")
	s.cancel()

	if s.conn != nil {
		s.conn.Close()
	}

	s.wg.Wait()

	for _, session := range s.sessions.GetAllSessions() {
		s.closeSession(session)
	}
	s.sessions.CloseAll()

	s.logger.Info("UDP server stopped",
		"packets_received", s.packetsReceived.Load(),
		"bytes_received", s.bytesReceived.Load(),
		"responses_sent", s.responsesSent.Load(),
		"send_errors", s.sendErrors.Load(),
	)

	return nil
}

// Stats returns server counters
func (s *UDPServer) Stats() map[string]uint64 {
	return map[string]uint64{
		"active_sessions":  uint64(s.sessions.SessionCount()),
		"packets_received": s.packetsReceived.Load(),
		"bytes_received":   s.bytesReceived.Load(),
		"responses_sent":   s.responsesSent.Load(),
		"send_errors":      s.sendErrors.Load(),
	}
}

// receiver reads datagrams and stamps them on arrival. Any read error other
// than a shutdown is fatal to the server.
func (s *UDPServer) receiver(ch chan<- datagram) {
	defer s.wg.Done()
	defer close(ch)

	buf := make([]byte, protocol.BufferSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("UDP receive failed, stopping receive loop", "error", err)
			}
			return
		}
		at := s.clock()

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case ch <- datagram{data: data, at: at, from: from}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *UDPServer) serveShared(ch <-chan datagram) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			s.handle(s.shared, d)
		}
	}
}

func (s *UDPServer) servePerPeer(ch <-chan datagram) {
	defer s.wg.Done()

	ttl := s.config.UDP.PeerTTL
	accuracy := min(peerExpiryAccuracy, ttl/10)

	// Expired batches must be consumed by this loop, which owns the map.
	// After Stop the handler drops them; Stop closes what is left.
	expired := make(chan expiredPeers)
	peers := ttlmap.NewAsync[string, *Session](ttl, accuracy, func(batch expiredPeers) {
		select {
		case expired <- batch:
		case <-s.ctx.Done():
		}
	})

	for {
		select {
		case <-s.ctx.Done():
			return

		case batch := <-expired:
			for peer := range batch {
				s.logger.Info("peer expired", "peer", peer.Key())
				s.closeSession(peer.Value)
			}

		case d, ok := <-ch:
			if !ok {
				return
			}
			peer, found := peers.GetOrCreate(d.from.String())
			if !found {
				peer.Value = s.openSession(peer.Key())
				s.logger.Info("new peer", "peer", peer.Key())
			}
			s.handle(peer.Value, d)
		}
	}
}

func (s *UDPServer) openSession(remote string) *Session {
	session := NewSession(s.sessions.NextID("udp"), "udp", remote, nil, s.config.Stats)
	s.sessions.AddSession(session)
	s.sink.SessionOpened(session)
	return session
}

func (s *UDPServer) closeSession(session *Session) {
	if session == nil || isClosing(session) {
		return
	}
	s.sessions.RemoveSession(session.ID)
	session.Close()
	logSessionSummary(s.logger.With("session", session.ID, "remote", session.Remote), session)
	s.sink.SessionClosed(session)
}

// handle acknowledges one datagram. A failed send is logged and dropped.
func (s *UDPServer) handle(session *Session, d datagram) {
	sample := session.Observe(d.at)
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(len(d.data)))

	message := string(d.data)
	logger := s.logger.With("session", session.ID, "peer", d.from.String())
	logSample(logger, sample, message)
	s.sink.Sampled(session, sample, len(d.data))

	resp := protocol.FormatUDPAck(sample, message)
	if _, err := s.conn.WriteToUDP([]byte(resp), d.from); err != nil {
		s.sendErrors.Add(1)
		logger.Warn("failed to send acknowledgment", "error", err, "packet", sample.Index)
		return
	}
	s.responsesSent.Add(1)
}
