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

// Package ws implements the reviewer duplex socket endpoint (spec.md
// §4.7, §6) over github.com/gorilla/websocket. The original reached a
// Flask-SocketIO event bus; each event here is instead one JSON envelope
// of the shape {"event": "<name>", "data": {...}} exchanged over a plain
// WebSocket connection, with event names preserved unchanged from
// pkg/review's dtos so the wire contract matches spec.md §6 exactly.
package ws

import "encoding/json"

// Envelope is the wire shape every message — either direction — is framed
// in: a tagged event name plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func decodeEnvelope(raw []byte, env *Envelope) error {
	return json.Unmarshal(raw, env)
}
