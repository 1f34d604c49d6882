package termclient

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/enderfga/sasha-relay/internal/terminal"
)

// Conn is a framed connection to a terminal server.
type Conn interface {
	Read(ctx context.Context) (terminal.Frame, error)
	Write(ctx context.Context, f terminal.Frame) error
	Close() error
}

// Dialer opens a new Conn. The client calls it once per connection
// attempt, including reconnects.
type Dialer func(ctx context.Context) (Conn, error)

// WebSocketDialer dials url and exchanges JSON frames over a websocket.
func WebSocketDialer(url string, cols, rows uint16) Dialer {
	return func(ctx context.Context) (Conn, error) {
		target := fmt.Sprintf("%s?cols=%d&rows=%d", url, cols, rows)
		c, _, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		c.SetReadLimit(1024 * 1024)
		return &wsConn{conn: c}, nil
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (terminal.Frame, error) {
	var f terminal.Frame
	if err := wsjson.Read(ctx, w.conn, &f); err != nil {
		return terminal.Frame{}, err
	}
	return f, nil
}

func (w *wsConn) Write(ctx context.Context, f terminal.Frame) error {
	return wsjson.Write(ctx, w.conn, f)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "client closed")
}
