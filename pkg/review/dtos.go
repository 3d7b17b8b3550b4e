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

// Package review implements the Human Review Dispatcher: the connection
// and conversation models, their controllers, and the periodic sweeper.
package review

import "encoding/json"

// Socket event names, reviewer client <-> server, unchanged from the
// original's dtos.py.
const (
	EventHeartbeat        = "ping"
	EventScoreConversation = "score_conversation"
	EventActivitySignal   = "activity_signal"

	EventClientStatusUpdate = "client_status_update"
	EventClientReviewUpdate = "client_review_update"
	EventClientReviewDone   = "client_review_done"
	EventClientTimeUpdate   = "client_time_update"
	EventClientServerError  = "client_server_error"

	BroadcastRoom = "scorer"
)

// ChatMessage is one turn of a submitted conversation transcript.
type ChatMessage struct {
	Role    int    `json:"role"`
	Message string `json:"message"`
}

// ConversationStatus is the queue entry stored in the ordered list —
// spec.md §3's "Conversation (work item)".
type ConversationStatus struct {
	ID          int64  `json:"id"`
	GUID        string `json:"guid"`
	ChallengeID int    `json:"challenge_id"`
	AssignedTo  string `json:"assigned_to"`
}

// ToResponse projects a queue entry to the wire shape broadcast in a
// status update.
func (c ConversationStatus) ToResponse() ConversationStatusResponse {
	return ConversationStatusResponse{
		ID:          c.ID,
		GUID:        c.GUID,
		ChallengeID: c.ChallengeID,
		InReview:    c.AssignedTo != "",
	}
}

func (c ConversationStatus) MarshalToJSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ConversationStatusFromJSON(s string) (ConversationStatus, error) {
	var c ConversationStatus
	err := json.Unmarshal([]byte(s), &c)
	return c, err
}

// ConversationStatusResponse is the per-item shape inside a
// client_status_update broadcast.
type ConversationStatusResponse struct {
	ID          int64  `json:"id"`
	GUID        string `json:"guid"`
	ChallengeID int    `json:"challenge_id"`
	InReview    bool   `json:"in_review"`
}

// ConversationReviewRequest is the details blob stored per-guid —
// spec.md §3's "Conversation details" — and doubles as the decoded
// submission body for POST /api/score.
type ConversationReviewRequest struct {
	ID             int64         `json:"id"`
	ChallengeID    int           `json:"challenge_id" validate:"required"`
	ChallengeGoal  string        `json:"challenge_goal" validate:"required"`
	ChallengeTitle string        `json:"challenge_title" validate:"required"`
	Conversation   []ChatMessage `json:"conversation,omitempty"`
	Picture        string        `json:"picture,omitempty"`
	Timestamp      string        `json:"timestamp" validate:"required"`
	ConversationID string        `json:"conversation_id" validate:"required"`
	Document       string        `json:"document,omitempty"`
	AnswerURI      string        `json:"answer_uri" validate:"required,url"`
}

// ToStatus builds the initial, unassigned queue entry for a new
// submission.
func (r ConversationReviewRequest) ToStatus() ConversationStatus {
	return ConversationStatus{
		ID:          r.ID,
		GUID:        r.ConversationID,
		ChallengeID: r.ChallengeID,
		AssignedTo:  "",
	}
}

// ToResponse projects the details blob to the wire shape sent to the
// assigned reviewer in a review_update event.
func (r ConversationReviewRequest) ToResponse() ConversationReviewResponse {
	return ConversationReviewResponse{
		ID:           r.ID,
		GUID:         r.ConversationID,
		Title:        r.ChallengeTitle,
		Goal:         r.ChallengeGoal,
		Document:     r.Document,
		Conversation: r.Conversation,
		Picture:      r.Picture,
	}
}

func (r ConversationReviewRequest) MarshalToJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ConversationReviewRequestFromJSON(s string) (ConversationReviewRequest, error) {
	var r ConversationReviewRequest
	err := json.Unmarshal([]byte(s), &r)
	return r, err
}

// ConversationReviewResponse is the shape sent to a reviewer on
// client_review_update.
type ConversationReviewResponse struct {
	ID           int64         `json:"id"`
	GUID         string        `json:"guid"`
	Title        string        `json:"title"`
	Goal         string        `json:"goal"`
	Document     string        `json:"document"`
	Conversation []ChatMessage `json:"conversation,omitempty"`
	Picture      string        `json:"picture,omitempty"`
}

// CurrentStatusResponse is the client_status_update broadcast payload.
type CurrentStatusResponse struct {
	SessionCount      int64                         `json:"session_count"`
	ConversationQueue []ConversationStatusResponse `json:"conversation_queue"`
}

// ScoreConversationRequest is the score_conversation client->server
// payload.
type ScoreConversationRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Passed         bool   `json:"passed"`
	CustomMessage  string `json:"custom_message"`
}

// ServerErrorResponse is the client_server_error payload.
type ServerErrorResponse struct {
	ErrorMsg string `json:"error_msg"`
}

// ReviewDoneStatus values for client_review_done.
const (
	ReviewDone    = "done"
	ReviewExpired = "expired"
)

// ReviewDoneResponse is the client_review_done payload.
type ReviewDoneResponse struct {
	Status string `json:"status"`
}
