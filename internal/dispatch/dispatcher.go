// Package dispatch starts probe servers and clients on request and owns
// their shutdown.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iat-probe/internal/client"
	"github.com/iat-probe/internal/server"
	"github.com/iat-probe/internal/socket"
)

// Outcome is the result of one client run
type Outcome struct {
	Transport string
	Result    *client.Result
	Err       error
}

// Status is a snapshot of running roles
type Status struct {
	TCPServers     []int
	UDPServers     []int
	TCPSessions    int
	UDPSessions    int
	ClientsRunning int
	ClientsDone    uint64
	Monitor        string
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithServerOptions passes options to every server the dispatcher starts
func WithServerOptions(opts ...server.Option) Option {
	return func(d *Dispatcher) {
		d.serverOpts = append(d.serverOpts, opts...)
	}
}

// WithClientOptions passes options to the client sender
func WithClientOptions(opts ...client.Option) Option {
	return func(d *Dispatcher) {
		d.clientOpts = append(d.clientOpts, opts...)
	}
}

// Dispatcher runs the four probe roles
type Dispatcher struct {
	config     *Config
	logger     *slog.Logger
	sender     *client.Sender
	monitor    *server.Monitor
	serverOpts []server.Option
	clientOpts []client.Option
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	stopOnce   sync.Once

	tcpServers []*server.TCPServer
	udpServers []*server.UDPServer

	clientsRunning atomic.Int64
	clientsDone    atomic.Uint64
}

// New creates a dispatcher. When a monitor address is configured the monitor
// is started and attached to every server.
func New(config *Config, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if config.Monitor.ListenAddr != "" {
		d.monitor = server.NewMonitor(config.Monitor.ListenAddr, logger, d.healthStatus)
		if err := d.monitor.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
		d.serverOpts = append(d.serverOpts, server.WithSink(d.monitor))
	}

	d.sender = client.New(&config.Client, logger, d.clientOpts...)
	return d, nil
}

// StartTCPServer binds a TCP probe server on port. A bind failure is fatal to
// that server only and is returned.
func (d *Dispatcher) StartTCPServer(port int) error {
	srv := server.NewTCPServer(&d.config.Server, d.logger, d.serverOpts...)
	if err := srv.Start(port); err != nil {
		d.logger.Error("TCP server failed to start", "port", port, "error", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		srv.Stop()
		return context.Canceled
	}
	d.tcpServers = append(d.tcpServers, srv)
	return nil
}

// StartUDPServer binds a UDP probe server on port
func (d *Dispatcher) StartUDPServer(port int) error {
	srv := server.NewUDPServer(&d.config.Server, d.logger, d.serverOpts...)
	if err := srv.Start(port); err != nil {
		d.logger.Error("UDP server failed to start", "port", port, "error", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		srv.Stop()
		return context.Canceled
	}
	d.udpServers = append(d.udpServers, srv)
	return nil
}

// StartTCPClient runs a TCP client in the background. The returned channel
// delivers exactly one Outcome.
func (d *Dispatcher) StartTCPClient(host string, port, n int, message string) <-chan Outcome {
	return d.runClient("tcp", func(ctx context.Context) (*client.Result, error) {
		return d.sender.SendTCP(ctx, host, port, n, message)
	})
}

// StartUDPClient runs a UDP client in the background
func (d *Dispatcher) StartUDPClient(host string, port, n int, message string) <-chan Outcome {
	return d.runClient("udp", func(ctx context.Context) (*client.Result, error) {
		return d.sender.SendUDP(ctx, host, port, n, message)
	})
}

func (d *Dispatcher) runClient(transport string, run func(ctx context.Context) (*client.Result, error)) <-chan Outcome {
	out := make(chan Outcome, 1)

	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		out <- Outcome{Transport: transport, Err: context.Canceled}
		close(out)
		return out
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.clientsRunning.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(out)
		defer d.clientsRunning.Add(-1)

		result, err := run(d.ctx)
		if err != nil {
			d.logger.Error("client aborted", "transport", transport, "error", err)
		}
		d.clientsDone.Add(1)
		out <- Outcome{Transport: transport, Result: result, Err: err}
	}()
	return out
}

// Status returns a snapshot of running servers and clients
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		ClientsRunning: int(d.clientsRunning.Load()),
		ClientsDone:    d.clientsDone.Load(),
	}
	for _, srv := range d.tcpServers {
		st.TCPServers = append(st.TCPServers, socket.Port(srv.Addr()))
		st.TCPSessions += srv.Sessions().SessionCount()
	}
	for _, srv := range d.udpServers {
		st.UDPServers = append(st.UDPServers, socket.Port(srv.Addr()))
		st.UDPSessions += srv.Sessions().SessionCount()
	}
	if d.monitor != nil {
		st.Monitor = d.monitor.Addr().String()
	}
	return st
}

func (d *Dispatcher) healthStatus() map[string]any {
	st := d.Status()
	return map[string]any{
		"tcp_servers":     st.TCPServers,
		"udp_servers":     st.UDPServers,
		"tcp_sessions":    st.TCPSessions,
		"udp_sessions":    st.UDPSessions,
		"clients_running": st.ClientsRunning,
		"clients_done":    st.ClientsDone,
	}
}

// Shutdown cancels running clients, waits for them, then stops every server
// and the monitor. It is safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down")

		d.mu.Lock()
		d.cancel()
		d.mu.Unlock()

		d.wg.Wait()

		d.mu.Lock()
		tcp, udp := d.tcpServers, d.udpServers
		d.tcpServers, d.udpServers = nil, nil
		d.mu.Unlock()

		for _, srv := range tcp {
			srv.Stop()
		}
		for _, srv := range udp {
			srv.Stop()
		}
		if d.monitor != nil {
			d.monitor.Stop()
		}

		d.logger.Info("shutdown complete")
	})
}
