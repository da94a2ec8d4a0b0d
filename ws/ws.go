// Package ws wraps the gorilla websocket transport behind the minimal surface
// the streaming core needs: a duplex message connection plus disconnect
// classification for outbound send errors.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Message type constants, mirroring gorilla's.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Message is one outbound websocket frame.
type Message struct {
	Type int
	Data []byte
}

// Text builds a text message from a serialized payload.
func Text(payload []byte) Message {
	return Message{Type: TextMessage, Data: payload}
}

// Conn is the duplex message connection the core operates on. Satisfied by
// *websocket.Conn; tests substitute scripted fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc establishes a Conn to the given url. The default implementation is
// Dial; stream initialisation accepts a substitute for tests.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial connects using the default gorilla dialer.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// IsDisconnect reports whether err indicates the connection is gone, as
// opposed to a transient failure on a still-open connection.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return true
	}
	// gorilla wraps writes on a failed connection in a plain error
	return strings.Contains(err.Error(), "use of closed network connection")
}
