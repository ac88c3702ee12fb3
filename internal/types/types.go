package types

import "abyss-chat-backend/internal/chat"

// ChatRequest is the body of the backend-compatible POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SubmitRequest carries free text typed into the widget.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse reports whether a submission was accepted. A rejected
// submission is not an error; the snapshot shows why nothing changed.
type SubmitResponse struct {
	Accepted bool          `json:"accepted"`
	Snapshot chat.Snapshot `json:"snapshot"`
}
