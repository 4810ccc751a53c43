package stream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsControlTimeout = 5 * time.Second

// WebSocketTransport reads frames from a WebSocket. Each text message is one
// frame; pings and empty messages count as keep-alives.
type WebSocketTransport struct {
	dialer *websocket.Dialer
	header http.Header
	logger *zap.SugaredLogger
}

// NewWebSocketTransport creates a WebSocket transport. A nil dialer uses websocket.DefaultDialer.
func NewWebSocketTransport(dialer *websocket.Dialer, header http.Header, logger *zap.SugaredLogger) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if header == nil {
		header = make(http.Header)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebSocketTransport{dialer: dialer, header: header, logger: logger}
}

// Stream implements Transport.
func (t *WebSocketTransport) Stream(ctx context.Context, url string, sink Sink) error {
	conn, resp, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(ErrUnexpectedStatus, "%s: %v", resp.Status, err)
		}
		return errors.Wrap(err, "dial websocket")
	}
	defer conn.Close()

	// Unblock ReadMessage when the session tears this connection down.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsControlTimeout))
		_ = conn.Close()
	})
	defer stop()

	conn.SetPingHandler(func(data string) error {
		sink.KeepAlive()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsControlTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	t.logger.Debugw("WebSocket opened", "url", url)
	sink.Opened()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read websocket")
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			sink.KeepAlive()
			continue
		}
		sink.Frame(string(data))
	}
}
