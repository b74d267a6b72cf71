package relay

import "encoding/json"

// Outbound event names.
const (
	EventMessageNew = "message.new"
	EventTyping     = "typing"
	EventError      = "error"
)

// Inbound frame names.
const (
	FrameMessageSend = "message.send"
	FrameTypingStart = "typing.start"
	FrameTypingStop  = "typing.stop"
)

// Event is an outbound websocket frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Frame is an inbound websocket frame; Data stays raw until the frame
// type is known.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendPayload struct {
	Content string `json:"content"`
}
