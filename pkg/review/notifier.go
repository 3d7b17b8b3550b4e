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

package review

import "context"

// Notifier is the duplex push channel the controllers emit through. The
// original source reached a module-level `SocketIO` global directly;
// spec.md §9 requires that to become an injected dependency, so the
// controllers depend on this interface and pkg/ingress/ws supplies the
// concrete implementation.
type Notifier interface {
	// EmitTo sends event with payload to a single socket id.
	EmitTo(ctx context.Context, sid, event string, payload any)
	// Broadcast sends event with payload to every member of the shared
	// broadcast room.
	Broadcast(ctx context.Context, event string, payload any)
	// JoinRoom adds sid to the broadcast room.
	JoinRoom(ctx context.Context, sid string)
	// LeaveAndDisconnect removes sid from the broadcast room and force-disconnects
	// its socket, used by the sweeper on reaped connections.
	LeaveAndDisconnect(ctx context.Context, sid string)
}
