package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iat-probe/internal/client"
	"github.com/iat-probe/internal/protocol"
)

var (
	url      = flag.String("url", "ws://127.0.0.1:9100/samples", "Monitor feed URL")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := client.Watch(ctx, *url, logger, func(eventType string, data []byte) {
		printEvent(eventType, data)
	})
	if err != nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func printEvent(eventType string, data []byte) {
	switch eventType {
	case protocol.TypeSessionOpen:
		ev, err := protocol.ParseSessionOpenEvent(data)
		if err != nil {
			return
		}
		fmt.Printf("%s open %s %s\n", ev.SessionID, ev.Transport, ev.Remote)
	case protocol.TypeSample:
		ev, err := protocol.ParseSampleEvent(data)
		if err != nil {
			return
		}
		value := "null"
		if ev.IATMillis != nil {
			value = fmt.Sprintf("%.2f", *ev.IATMillis)
		}
		fmt.Printf("%s [P#%d] [%s: %s] %s %dB\n", ev.SessionID, ev.Index, protocol.IATTag, value, ev.Point, ev.Bytes)
	case protocol.TypeSessionClose:
		ev, err := protocol.ParseSessionCloseEvent(data)
		if err != nil {
			return
		}
		fmt.Printf("%s closed packets=%d mean=%.2fms jitter=%.2fms\n", ev.SessionID, ev.Packets, ev.MeanMillis, ev.JitterMillis)
	default:
		fmt.Printf("%s\n", data)
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
