package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iat-probe/internal/dispatch"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (defaults when empty)")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	role       = flag.String("role", "", "Run one role without the menu: tcp-server, tcp-client, udp-server, udp-client")
	host       = flag.String("host", "127.0.0.1", "Server address for client roles")
	port       = flag.Int("port", 5000, "Server port")
	packets    = flag.Int("n", 10, "Number of packets for client roles")
	message    = flag.String("message", "ping", "Message to send for client roles")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := dispatch.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	level := parseLogLevel(config.Logging.Level)
	if *logLevel != "" {
		level = parseLogLevel(*logLevel)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("IAT probe starting",
		"version", "1.0.0",
		"config", *configPath,
	)

	d, err := dispatch.New(config, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	if *role != "" {
		code = runRole(d, logger, sigChan)
	} else {
		menuDone := make(chan error, 1)
		go func() {
			menuDone <- d.Menu(os.Stdin, os.Stdout)
		}()

		select {
		case err := <-menuDone:
			if err != nil {
				logger.Error("menu input failed", "error", err)
				code = 1
			}
		case <-sigChan:
			logger.Info("shutdown signal received")
		}
	}

	d.Shutdown()
	os.Exit(code)
}

// runRole runs a single role. Servers run until a signal arrives; clients
// run to completion.
func runRole(d *dispatch.Dispatcher, logger *slog.Logger, sigChan <-chan os.Signal) int {
	var outcome <-chan dispatch.Outcome

	switch *role {
	case "tcp-server", "udp-server":
		var err error
		if *role == "tcp-server" {
			err = d.StartTCPServer(*port)
		} else {
			err = d.StartUDPServer(*port)
		}
		if err != nil {
			return 1
		}
		<-sigChan
		logger.Info("shutdown signal received")
		return 0
	case "tcp-client":
		outcome = d.StartTCPClient(*host, *port, *packets, *message)
	case "udp-client":
		outcome = d.StartUDPClient(*host, *port, *packets, *message)
	default:
		fmt.Fprintf(os.Stderr, "Unknown role %q\n", *role)
		flag.Usage()
		return 2
	}

	select {
	case out := <-outcome:
		if out.Err != nil {
			return 1
		}
		return 0
	case <-sigChan:
		logger.Info("shutdown signal received")
		return 1
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
