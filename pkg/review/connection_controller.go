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

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/ai-redteam-labs/review-dispatcher/pkg/shared/logging"
)

// ConnectionController exposes the three reviewer socket events that
// touch reviewer liveness: connect, heartbeat, activity_signal — spec.md
// §4.4. Grounded on
// original_source/.../server/controller/connection.py.
type ConnectionController struct {
	connections   *ConnectionModel
	conversations *ConversationModel
	notifier      Notifier
	log           logr.Logger
}

// NewConnectionController wires the connection controller's dependencies.
func NewConnectionController(connections *ConnectionModel, conversations *ConversationModel, notifier Notifier, log logr.Logger) *ConnectionController {
	return &ConnectionController{connections: connections, conversations: conversations, notifier: notifier, log: log}
}

// Connect registers sid as alive, joins the broadcast room, sends a
// status update to all reviewers, and invites the caller to attempt a
// pick (the caller is expected to be the conversation controller's Pick,
// wired by the ingress layer immediately after Connect returns).
func (c *ConnectionController) Connect(ctx context.Context, sid string) error {
	count, err := c.connections.Increment(ctx, sid)
	if err != nil {
		return err
	}
	c.notifier.JoinRoom(ctx, sid)
	return c.sendUpdate(ctx, count)
}

// Heartbeat refreshes sid's liveness and pushes its current assignment
// time back to it.
func (c *ConnectionController) Heartbeat(ctx context.Context, sid string) error {
	if err := c.connections.Extend(ctx, sid); err != nil {
		return err
	}
	remaining, err := c.conversations.GetTime(ctx, sid)
	if err != nil {
		return err
	}
	c.notifier.EmitTo(ctx, sid, EventClientTimeUpdate, strconv.Itoa(int(remaining.Seconds())))
	return nil
}

// ActivitySignal grants sid's assignment an activity bonus and pushes
// the resulting time back to it.
func (c *ConnectionController) ActivitySignal(ctx context.Context, sid string) error {
	remaining, err := c.conversations.EarnBonus(ctx, sid)
	if err != nil {
		return err
	}
	c.notifier.EmitTo(ctx, sid, EventClientTimeUpdate, strconv.Itoa(int(remaining.Seconds())))
	return nil
}

// DeadConnections runs the liveness integrity sweep and, for every
// removed sid, leaves the broadcast room and force-disconnects the
// socket. Returns the removed sids for the caller to hand to
// ConversationController.DeadConnections.
func (c *ConnectionController) DeadConnections(ctx context.Context) ([]string, error) {
	result, err := c.connections.Integrity(ctx)
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		c.log.V(1).Info("no dead connections found")
		return nil, nil
	}
	c.log.Info("dead connections removed", "new_count", result.Count)
	for _, sid := range result.RemovedSIDs {
		c.notifier.LeaveAndDisconnect(ctx, sid)
	}
	return result.RemovedSIDs, nil
}

func (c *ConnectionController) sendUpdate(ctx context.Context, sessionCount int64) error {
	queue, err := c.conversations.GetQueue(ctx)
	if err != nil {
		return err
	}
	responses := make([]ConversationStatusResponse, 0, len(queue))
	for _, q := range queue {
		responses = append(responses, q.ToResponse())
	}
	status := CurrentStatusResponse{SessionCount: sessionCount, ConversationQueue: responses}
	logging.WithIDs(c.log, "", "").Info("sending status update to all clients")
	c.notifier.Broadcast(ctx, EventClientStatusUpdate, status)
	return nil
}
