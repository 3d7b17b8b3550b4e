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

package kv

// Key names, unchanged from the original Redis layout: connection.* and
// conversation.*. LockName is the name of the conversation lock; kvlock
// stores it under the key "lock:" + name.
const (
	ConnectionCount    = "connection.count"
	ConnectionSet      = "connection.set"
	ConnectionKeyPrefix = "connection."
	ConnectionPool     = "connection.pool"

	ConversationQueue      = "conversation.queue"
	ConversationCount      = "conversation.count"
	ConversationAssignment = "conversation.assignment"
	ConversationKeyPrefix  = "conversation."
	ConversationTTLPrefix  = "conversation.key.ttl."

	LockName = "lock"
)

// ConnectionLivenessKey returns the per-reviewer liveness key.
func ConnectionLivenessKey(sid string) string {
	return ConnectionKeyPrefix + sid
}

// ConversationDetailsKey returns the per-guid details key.
func ConversationDetailsKey(guid string) string {
	return ConversationKeyPrefix + guid
}

// ConversationTTLKey returns the per-reviewer assignment TTL key.
func ConversationTTLKey(sid string) string {
	return ConversationTTLPrefix + sid
}
