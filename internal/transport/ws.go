package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// wsConn adapts a websocket connection to the Conn interface. Each
// envelope travels as one JSON text message.
type wsConn struct {
	c *websocket.Conn
}

// Dial connects to a sandbox endpoint serving the channel over
// websocket.
func Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	// Snapshot envelopes have no size bound; the library default of
	// 32 KiB would close the channel on the first real snapshot.
	c.SetReadLimit(-1)
	return &wsConn{c: c}, nil
}

// Accept upgrades an inbound HTTP request to a channel connection.
func Accept(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	c.SetReadLimit(-1)
	return &wsConn{c: c}, nil
}

func (w *wsConn) Send(ctx context.Context, e Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (w *wsConn) Receive(ctx context.Context) (Envelope, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return e, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
