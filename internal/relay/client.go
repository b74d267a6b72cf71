package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseForbidden is sent when the caller is not a participant of the
// conversation it tried to join.
const CloseForbidden = 4403

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Handler receives the inbound frames of one connection. Implemented by
// the chat service binding in httpapi.
type Handler interface {
	HandleMessage(ctx context.Context, content string) error
	HandleTyping(ctx context.Context, isTyping bool) error
}

// Client is one joined websocket connection. It is a broker Sink; the
// broker fan-out feeds the buffered send channel drained by writePump.
type Client struct {
	topic   string
	conn    *websocket.Conn
	broker  Broker
	handler Handler

	send      chan Event
	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(topic string, conn *websocket.Conn, broker Broker, handler Handler) *Client {
	return &Client{
		topic:   topic,
		conn:    conn,
		broker:  broker,
		handler: handler,
		send:    make(chan Event, sendBuffer),
		done:    make(chan struct{}),
	}
}

// Deliver implements Sink. Full buffers drop the event instead of
// blocking the publisher; disconnected subscribers get no replay.
func (c *Client) Deliver(ev Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		log.Printf("relay: send buffer full, dropping event topic=%s event=%s", c.topic, ev.Event)
	}
}

// Run subscribes the client and blocks until the connection closes. The
// client is unsubscribed before the connection is released so the
// broker never delivers to a dead socket.
func (c *Client) Run(ctx context.Context) {
	c.broker.Subscribe(c.topic, c)
	go c.writePump()

	c.readPump(ctx)

	c.broker.Unsubscribe(c.topic, c)
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("relay: read error topic=%s err=%v", c.topic, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.Deliver(Event{Event: EventError, Data: map[string]any{"message": "invalid frame"}})
			continue
		}

		switch frame.Event {
		case FrameMessageSend:
			var p sendPayload
			_ = json.Unmarshal(frame.Data, &p)
			if err := c.handler.HandleMessage(ctx, p.Content); err != nil {
				c.Deliver(Event{Event: EventError, Data: map[string]any{"message": err.Error()}})
			}
		case FrameTypingStart:
			_ = c.handler.HandleTyping(ctx, true)
		case FrameTypingStop:
			_ = c.handler.HandleTyping(ctx, false)
		default:
			c.Deliver(Event{Event: EventError, Data: map[string]any{"message": "unknown event: " + frame.Event}})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
