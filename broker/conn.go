package broker

import "errors"

// ErrNotConnected is returned by Send on a closed or never opened conn.
var ErrNotConnected = errors.New("broker: not connected")

// Sender is the write half a bot needs.
type Sender interface {
	Send(cmd Command) error
}

// Conn is one bidirectional stream to the broker. ReadMessage blocks until
// the next frame arrives and must only be called from a single goroutine.
type Conn interface {
	Sender
	ReadMessage() ([]byte, error)
	Close() error
}
