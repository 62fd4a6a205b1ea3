package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iat-probe/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 65535
)

// Watch subscribes to a monitor feed at url and calls handle for every event
// until ctx is cancelled or the monitor closes the feed. Both end the watch
// without error.
func Watch(ctx context.Context, url string, logger *slog.Logger, handle func(eventType string, data []byte)) error {
	logger.Info("connecting to monitor", "url", url)

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("monitor closed the feed")
				return nil
			}
			return fmt.Errorf("failed to read event: %w", err)
		}

		eventType, err := protocol.ParseMessage(data)
		if err != nil {
			logger.Warn("ignoring malformed event", "error", err)
			continue
		}
		handle(eventType, data)
	}
}
