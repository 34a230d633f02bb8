// Package hub fans websocket frames out to every client watching one feed.
// Each hub runs a single goroutine that owns its client set.
package hub

import "github.com/gofiber/websocket/v2"

// Message is one websocket frame queued for every client of a hub. Frame is
// the websocket opcode it is written with.
type Message struct {
	Frame int
	Data  []byte
}

// Text queues pre-encoded JSON as a text frame.
func Text(data []byte) Message {
	return Message{Frame: websocket.TextMessage, Data: data}
}

// Binary queues raw bytes, such as a JPEG preview, as a binary frame.
func Binary(data []byte) Message {
	return Message{Frame: websocket.BinaryMessage, Data: data}
}

// closeFrame is written to each client when its hub shuts down.
var closeFrame = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
