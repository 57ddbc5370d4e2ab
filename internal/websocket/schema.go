package websocket

import "github.com/stemsi/bursar-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventProgress Event = "progress"
	EventFinished Event = "finished"
	EventPong     Event = "pong"
)

// ProgressResponse carries one student's outcome during a billing run.
type ProgressResponse struct {
	Event    Event               `json:"event"`
	Progress model.ProgressEvent `json:"progress"`
}

// FinishedResponse is the last message of a stream. Result is the
// persisted run report.
type FinishedResponse struct {
	Event  Event             `json:"event"`
	Result *model.BillingRun `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
