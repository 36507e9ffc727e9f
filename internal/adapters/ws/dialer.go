package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of *websocket.Conn the channel needs; tests substitute
// in-memory pipes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens one websocket connection. The returned status code lets the
// channel distinguish auth rejection (401) from plain unavailability.
type Dialer func(ctx context.Context, endpoint string, header http.Header) (Conn, int, error)

// GorillaDialer dials with the default gorilla dialer.
func GorillaDialer(ctx context.Context, endpoint string, header http.Header) (Conn, int, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return nil, status, err
	}
	return conn, status, nil
}
