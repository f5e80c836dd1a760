package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evdnx/gotick/logger"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	url  string
	conn *websocket.Conn
	log  logger.Logger

	// mu guards conn writes and closed.
	mu     sync.Mutex
	closed bool
}

// Dial opens the stream at url.
func Dial(ctx context.Context, url string, log logger.Logger) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Info("broker_connected", logger.String("url", url))
	return &WSConn{url: url, conn: conn, log: log}, nil
}

// Send writes cmd as one JSON text frame.
func (w *WSConn) Send(cmd Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.conn == nil {
		return ErrNotConnected
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Kind(), err)
	}
	return nil
}

// ReadMessage returns the next text frame.
func (w *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close sends a close frame (best effort) and tears the socket down. It is
// safe to call more than once.
func (w *WSConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	w.log.Info("broker_disconnected", logger.String("url", w.url))
	return err
}
