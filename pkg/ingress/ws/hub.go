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
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Hub tracks this worker's locally-connected reviewer sockets and
// implements review.Notifier over them. The broadcast "room" spec.md §6
// describes is, in this transport, simply every socket this worker has
// live at the moment — there is only ever one room (spec.md §6
// "broadcast room name constant"), so no room bookkeeping beyond hub
// membership is needed.
type Hub struct {
	log logr.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs an empty Hub.
func NewHub(log logr.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*Client)}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.sid] = c
	h.mu.Unlock()
}

func (h *Hub) remove(sid string) {
	h.mu.Lock()
	delete(h.clients, sid)
	h.mu.Unlock()
}

func (h *Hub) get(sid string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sid]
	return c, ok
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// EmitTo sends event/payload to sid if this worker has it connected
// locally. A sid owned by a different worker process is silently a
// no-op here: spec.md's data flow assumes the socket layer and the
// controller invoking EmitTo share a process, which is how
// pkg/ingress/ws is wired in cmd/review-dispatcher.
func (h *Hub) EmitTo(ctx context.Context, sid, event string, payload any) {
	c, ok := h.get(sid)
	if !ok {
		return
	}
	c.enqueue(event, payload, h.log)
}

// Broadcast sends event/payload to every socket this worker has
// connected.
func (h *Hub) Broadcast(ctx context.Context, event string, payload any) {
	for _, c := range h.snapshot() {
		c.enqueue(event, payload, h.log)
	}
}

// JoinRoom is a no-op: a socket is implicitly a hub member for as long as
// it's registered, and there is only the one room.
func (h *Hub) JoinRoom(ctx context.Context, sid string) {}

// LeaveAndDisconnect removes sid from the hub and closes its connection.
// Removal happens first so a Broadcast racing this call (the sweeper
// reaps dead connections and immediately broadcasts the resulting state,
// conversation_controller.go's DeadConnections) can never hand the
// closing client a message: it simply won't find sid in the snapshot.
func (h *Hub) LeaveAndDisconnect(ctx context.Context, sid string) {
	c, ok := h.get(sid)
	h.remove(sid)
	if ok {
		c.close()
	}
}
