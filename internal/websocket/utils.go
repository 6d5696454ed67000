package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// Clients ping at least this often while a quiz is open.
	readWait = 5 * time.Minute
	// Largest inbound frame; autosave answers are short strings.
	maxMessageSize = 16 << 10
)

// Prepare caps inbound frames and lets protocol-level pongs keep an
// otherwise quiet connection alive.
func Prepare(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
}

// WriteTyped sends v as a JSON frame.
func WriteTyped(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// WriteError sends an error event.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{Event: EventError, Error: errMsg})
}

// ReadJSON waits up to readWait for the next client message.
func ReadJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return err
	}
	return conn.ReadJSON(v)
}
