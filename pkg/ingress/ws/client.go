/*
Copyright 2026 AI Red Teaming Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 32
)

// dispatchFunc handles one decoded client envelope. Owned by the
// handler, not the client, so Client stays transport-only.
type dispatchFunc func(event string, data json.RawMessage)

// Client wraps one reviewer's socket connection: a buffered outbound
// queue plus the read/write pump goroutines that keep the connection
// alive and drain it, grounded on the hub/client split used by
// paulround2tele-studio's websocket package (no teacher or pack repo
// vendors a comparable duplex transport).
type Client struct {
	sid  string
	hub  *Hub
	conn *websocket.Conn
	log  logr.Logger

	send     chan []byte
	dispatch dispatchFunc

	mu     sync.Mutex
	closed bool
}

func newClient(sid string, hub *Hub, conn *websocket.Conn, dispatch dispatchFunc, log logr.Logger) *Client {
	return &Client{
		sid:      sid,
		hub:      hub,
		conn:     conn,
		log:      log,
		send:     make(chan []byte, sendBuffer),
		dispatch: dispatch,
	}
}

// enqueue encodes event/payload and queues it for delivery. A full send
// buffer means the client is not draining fast enough; the message is
// dropped and logged rather than blocking the caller, since EmitTo and
// Broadcast are invoked while holding no lock but from latency-sensitive
// controller paths. Guarded by mu against a concurrent close: once
// closed is set, enqueue is a no-op rather than a send on a closed
// channel, which panics (spec.md §8, reaping a reviewer must never
// crash a broadcast racing it).
func (c *Client) enqueue(event string, payload any, log logr.Logger) {
	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error(err, "failed to encode outgoing envelope", "event", event, "sid", c.sid)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Error(nil, "dropping outgoing message, send buffer full", "event", event, "sid", c.sid)
	}
}

// close marks the client closed under mu (so a racing enqueue sees it
// and backs off instead of sending on a closed channel), then closes the
// send channel to stop writePump and the underlying connection to stop
// readPump. Safe to call more than once, from either pump or the hub.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.conn.Close()
}

// readPump reads envelopes off the socket and dispatches them until the
// connection fails or is closed, then unregisters from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c.sid)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error(err, "websocket read error", "sid", c.sid)
			}
			return
		}
		var env Envelope
		if err := decodeEnvelope(raw, &env); err != nil {
			c.log.Error(err, "failed to decode incoming envelope", "sid", c.sid)
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// writePump drains the send channel to the socket and pings on an
// idle timer, per the standard gorilla/websocket keepalive idiom.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
