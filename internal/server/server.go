package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iat-probe/internal/iat"
	"github.com/iat-probe/internal/protocol"
	"github.com/iat-probe/internal/socket"
)

const acceptRetryDelay = 10 * time.Millisecond

// TCPServer accepts stream connections and acknowledges every received line
// with its packet index and IAT
type TCPServer struct {
	config   *Config
	logger   *slog.Logger
	sessions *SessionManager
	clock    iat.Clock
	sink     Sink
	listener *net.TCPListener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Statistics
	connectionsAccepted atomic.Uint64
	packetsReceived     atomic.Uint64
	bytesReceived       atomic.Uint64
}

// NewTCPServer creates a new TCP server
func NewTCPServer(config *Config, logger *slog.Logger, opts ...Option) *TCPServer {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:   config,
		logger:   logger.With("role", "tcp-server"),
		sessions: NewSessionManager(logger),
		clock:    o.clock,
		sink:     o.sink,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener and runs the accept loop in the background. A bind
// or listen failure is returned and leaves the server unusable.
func (s *TCPServer) Start(port int) error {
	listener, err := socket.ListenTCP(port, socket.Backlog)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	s.listener = listener

	s.logger.Info("TCP server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions returns the registry of open connections
func (s *TCPServer) Sessions() *SessionManager {
	return s.sessions
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return
func (s *TCPServer) Stop() error {
	s.logger.Info("stopping TCP server")
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.sessions.CloseAll()
	s.wg.Wait()

	s.logger.Info("TCP server stopped",
		"connections_accepted", s.connectionsAccepted.Load(),
		"packets_received", s.packetsReceived.Load(),
		"bytes_received", s.bytesReceived.Load(),
	)

	return nil
}

// Stats returns server counters
func (s *TCPServer) Stats() map[string]uint64 {
	return map[string]uint64{
		"connections_accepted": s.connectionsAccepted.Load(),
		"active_sessions":      uint64(s.sessions.SessionCount()),
		"packets_received":     s.packetsReceived.Load(),
		"bytes_received":       s.bytesReceived.Load(),
	}
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.connectionsAccepted.Add(1)
		session := NewSession(s.sessions.NextID("tcp"), "tcp", conn.RemoteAddr().String(), conn, s.config.Stats)
		if !s.sessions.AddSession(session) {
			return
		}

		s.wg.Add(1)
		go s.handleConn(session, conn)
	}
}

// handleConn runs the receive loop of one connection
func (s *TCPServer) handleConn(session *Session, conn *net.TCPConn) {
	defer s.wg.Done()

	logger := s.logger.With("session", session.ID, "remote", session.Remote)
	logger.Info("connection accepted")
	s.sink.SessionOpened(session)

	defer func() {
		s.sessions.RemoveSession(session.ID)
		logSessionSummary(logger, session)
		s.sink.SessionClosed(session)
	}()

	reader := bufio.NewReaderSize(conn, protocol.BufferSize)
	for {
		raw, err := readMessage(reader)
		if len(raw) > 0 {
			at := s.clock()
			sample := session.Observe(at)
			s.packetsReceived.Add(1)
			s.bytesReceived.Add(uint64(len(raw)))

			message := strings.TrimRight(raw, "\r\n")
			logSample(logger, sample, message)
			s.sink.Sampled(session, sample, len(raw))

			if _, werr := io.WriteString(conn, protocol.FormatTCPAck(sample)); werr != nil {
				if !isClosing(session) {
					logger.Warn("failed to send acknowledgment", "error", werr, "packet", sample.Index)
				}
				return
			}
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("peer closed connection")
			case isClosing(session):
			default:
				logger.Warn("read error", "error", err)
			}
			return
		}
	}
}

// readMessage returns the next newline-terminated message. A message that
// fills the whole receive buffer without a newline is returned as is.
func readMessage(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return string(line), nil
	}
	return string(line), err
}

func isClosing(session *Session) bool {
	select {
	case <-session.Done:
		return true
	default:
		return false
	}
}
