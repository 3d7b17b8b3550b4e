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
	"encoding/json"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/review"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Reviewer clients run on a separate origin from the ingress host in
	// every deployment we've seen in the pack; the shared-secret header on
	// POST /api/score has no socket equivalent, so origin is not a trust
	// boundary here (spec.md §7).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades incoming requests to reviewer duplex sockets and wires
// decoded envelopes to the connection/conversation controllers, mirroring
// the original's @socketio.on handlers in app.py.
type Handler struct {
	hub  *Hub
	conn *review.ConnectionController
	conv *review.ConversationController
	log  logr.Logger
}

// NewHandler builds the websocket ingress handler.
func NewHandler(hub *Hub, conn *review.ConnectionController, conv *review.ConversationController, log logr.Logger) *Handler {
	return &Handler{hub: hub, conn: conn, conv: conv, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "websocket upgrade failed")
		return
	}

	sid := uuid.NewString()
	ctx := r.Context()

	client := newClient(sid, h.hub, wsConn, h.dispatcher(sid), h.log)
	h.hub.add(client)

	if err := h.conn.Connect(ctx, sid); err != nil {
		h.log.Error(err, "connect failed", "sid", sid)
	} else if err := h.conv.Pick(ctx); err != nil {
		h.log.Error(err, "pick failed after connect", "sid", sid)
	}

	go client.writePump()
	client.readPump()
}

// dispatcher builds the per-connection envelope router. Each call runs
// on the client's readPump goroutine; a panic inside a handler is
// recovered and reported back over the socket rather than killing the
// connection, matching spec.md §7's handler-boundary error containment.
func (h *Handler) dispatcher(sid string) dispatchFunc {
	return func(event string, data json.RawMessage) {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				h.log.Error(nil, "recovered panic in socket handler", "sid", sid, "event", event, "panic", r)
				h.hub.EmitTo(ctx, sid, review.EventClientServerError, review.ServerErrorResponse{ErrorMsg: "internal error"})
			}
		}()

		switch event {
		case review.EventHeartbeat:
			if err := h.conn.Heartbeat(ctx, sid); err != nil {
				h.reportError(ctx, sid, event, err)
			}
		case review.EventActivitySignal:
			if err := h.conn.ActivitySignal(ctx, sid); err != nil {
				h.reportError(ctx, sid, event, err)
			}
		case review.EventScoreConversation:
			var req review.ScoreConversationRequest
			if err := json.Unmarshal(data, &req); err != nil {
				h.reportError(ctx, sid, event, err)
				return
			}
			if err := h.conv.Score(ctx, req, sid); err != nil {
				h.reportError(ctx, sid, event, err)
			}
		default:
			h.log.Error(nil, "unknown socket event", "sid", sid, "event", event)
		}
	}
}

func (h *Handler) reportError(ctx context.Context, sid, event string, err error) {
	h.log.Error(err, "socket handler failed", "sid", sid, "event", event)
	h.hub.EmitTo(ctx, sid, review.EventClientServerError, review.ServerErrorResponse{ErrorMsg: "request failed"})
}
