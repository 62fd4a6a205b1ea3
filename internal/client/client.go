// Package client sends probe packets to a TCP or UDP probe server.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iat-probe/internal/iat"
	"github.com/iat-probe/internal/protocol"
)

// Result summarises one client run
type Result struct {
	Transport string
	Sent      int
	Responses int
	// Final is the last acknowledgment received, empty if none arrived
	Final    string
	TimedOut bool
	// SendIATs holds the send-side spacing of packets 2..n
	SendIATs []time.Duration
}

// Option configures a Sender
type Option func(*Sender)

// WithClock overrides the time source used to stamp sends
func WithClock(clock iat.Clock) Option {
	return func(s *Sender) {
		s.clock = clock
	}
}

// Sender runs probe clients
type Sender struct {
	config *Config
	logger *slog.Logger
	clock  iat.Clock
}

// New creates a new Sender
func New(config *Config, logger *slog.Logger, opts ...Option) *Sender {
	s := &Sender{
		config: config,
		logger: logger,
		clock:  iat.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ackResult struct {
	count int
	last  string
	err   error
}

// SendTCP connects to host:port, sends n newline-terminated copies of
// message, half-closes and then collects acknowledgments until the server
// closes the stream or the response timeout elapses. A timeout is reported in
// the Result, not as an error.
func (s *Sender) SendTCP(ctx context.Context, host string, port, n int, message string) (*Result, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := s.logger.With("transport", "tcp", "server", addr)

	dialer := net.Dialer{Timeout: s.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer func() {
		conn.Close()
		logger.Info("disconnected from server")
	}()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	logger.Info("connected to server")

	// Acks are drained while sending so a long burst cannot stall on full
	// socket buffers in both directions.
	acks := make(chan ackResult, 1)
	go func() {
		acks <- readAcks(conn)
	}()

	result := &Result{Transport: "tcp"}
	if err := s.sendAll(ctx, logger, result, n, func() error {
		_, err := conn.Write([]byte(message + "\n"))
		return err
	}); err != nil {
		return result, err
	}

	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		return result, fmt.Errorf("failed to half-close: %w", err)
	}
	// The deadline overrides the one set on cancellation, so check ctx after.
	conn.SetReadDeadline(time.Now().Add(s.config.ResponseTimeout))
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	ack := <-acks
	result.Responses = ack.count
	result.Final = ack.last

	if ack.err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !errors.Is(ack.err, os.ErrDeadlineExceeded) {
			return result, fmt.Errorf("failed to read response: %w", ack.err)
		}
		result.TimedOut = true
	}

	s.logOutcome(logger, result)
	return result, nil
}

// readAcks counts newline-terminated acknowledgments until EOF or an error.
// A nil error means the server closed the stream.
func readAcks(conn net.Conn) ackResult {
	var res ackResult
	reader := bufio.NewReaderSize(conn, protocol.BufferSize)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			res.count++
			res.last = strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.err = err
			}
			return res
		}
	}
}

// SendUDP sends n datagrams carrying message to host:port and then waits for
// up to n responses, bounded by the response timeout. With n = 0 nothing is
// sent and nothing is awaited.
func (s *Sender) SendUDP(ctx context.Context, host string, port, n int, message string) (*Result, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := s.logger.With("transport", "udp", "server", addr)

	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	// An unconnected socket does not surface ICMP errors, so a closed port
	// reads as a missing response instead of failing the run.
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}
	defer func() {
		conn.Close()
		logger.Info("socket closed")
	}()
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	result := &Result{Transport: "udp"}
	if err := s.sendAll(ctx, logger, result, n, func() error {
		_, err := conn.WriteToUDP([]byte(message), raddr)
		return err
	}); err != nil {
		return result, err
	}

	if n == 0 {
		return result, nil
	}

	conn.SetReadDeadline(time.Now().Add(s.config.ResponseTimeout))
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	buf := make([]byte, protocol.BufferSize)
	for result.Responses < n {
		m, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				result.TimedOut = true
				break
			}
			return result, fmt.Errorf("failed to receive response: %w", err)
		}
		result.Responses++
		result.Final = string(buf[:m])
		logger.Debug("response received", "response", result.Final)
	}

	s.logOutcome(logger, result)
	return result, nil
}

// sendAll runs write n times, tracking the send-side IAT of each packet
func (s *Sender) sendAll(ctx context.Context, logger *slog.Logger, result *Result, n int, write func() error) error {
	tracker := iat.NewTracker(iat.PointSend)

	for i := 0; i < n; i++ {
		if i > 0 && s.config.SendInterval > 0 {
			timer := time.NewTimer(s.config.SendInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		sample := tracker.Observe(s.clock())
		if err := write(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to send packet %d: %w", sample.Index, err)
		}
		result.Sent++

		if sample.First {
			logger.Info("first packet, no IAT calculated",
				"packet", sample.Index,
				"point", sample.Point,
			)
			continue
		}
		result.SendIATs = append(result.SendIATs, sample.IAT)
		logger.Info("packet sent",
			"packet", sample.Index,
			"iat_ms", strconv.FormatFloat(sample.Millis(), 'f', 2, 64),
			"point", sample.Point,
		)
	}
	return nil
}

func (s *Sender) logOutcome(logger *slog.Logger, result *Result) {
	if result.Responses == 0 {
		logger.Warn("no response from server",
			"timeout", s.config.ResponseTimeout,
			"sent", result.Sent,
		)
		return
	}
	logger.Info("final response",
		"response", result.Final,
		"responses", result.Responses,
		"sent", result.Sent,
		"timed_out", result.TimedOut,
	)
}
