package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agora-chat/agora/internal/envelope"
)

// WSTransport is the alternate push transport over a websocket. The wire
// shape drifted over time upstream: frames may be {"event","data"}
// envelopes or bare JSON/text bodies, so both are accepted and the
// normalizer sorts out the payload.
type WSTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWSTransport returns a transport with the default dialer.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		Dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

type wsFrame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// wsURL maps http(s) subscription targets onto the schemes gorilla dials.
func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

func (t *WSTransport) Open(ctx context.Context, url string, opened func(), frame func(envelope.Frame)) error {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, wsURL(url), t.Header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage on teardown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	opened()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return err
		}
		if kind == websocket.PingMessage || kind == websocket.PongMessage {
			continue
		}

		var wrapped wsFrame
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Event != "" && wrapped.Data != "" {
			frame(envelope.Frame{Event: wrapped.Event, Data: wrapped.Data})
			continue
		}
		frame(envelope.Frame{Data: string(data)})
	}
}
