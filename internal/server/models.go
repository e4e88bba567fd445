// Package server exposes the project intake HTTP API.
package server

import (
	"github.com/scopedeck/scopedeck/internal/intake"
	"github.com/scopedeck/scopedeck/internal/store"
)

// --- Request DTOs ---

// CreateProjectRequest is the payload for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StartIntakeRequest is the payload for POST /api/v1/projects/:id/intake/start.
type StartIntakeRequest struct {
	Message string `json:"message"`
}

// IntentChoiceRequest is the payload for POST /api/v1/projects/:id/intake/intent.
type IntentChoiceRequest struct {
	Choice string `json:"choice"`
}

// AnswerRequest is the payload for POST /api/v1/projects/:id/intake/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// --- Response DTOs ---

// ProjectResponse wraps a project record.
type ProjectResponse struct {
	Project *store.Project `json:"project"`
}

// StartIntakeResponse carries the fixed classification question and its
// selectable options.
type StartIntakeResponse struct {
	Question string                `json:"question"`
	Options  []intake.IntentOption `json:"options"`
}

// QuestionResponse carries a follow-up question.
type QuestionResponse struct {
	Message        string `json:"message"`
	QuestionsAsked int    `json:"questions_asked"`
}

// AnswerResponse is the outcome of reviewing a user answer: either another
// follow-up question or the finished summary.
type AnswerResponse struct {
	NeedsMore      bool                   `json:"needs_more"`
	Message        string                 `json:"message,omitempty"`
	QuestionsAsked int                    `json:"questions_asked"`
	Summary        *intake.ProjectSummary `json:"summary,omitempty"`
}

// SummaryResponse carries a force-finalized summary.
type SummaryResponse struct {
	Summary *intake.ProjectSummary `json:"summary"`
}

// HealthDetailResponse is the detailed health report for GET /api/v1/health.
type HealthDetailResponse struct {
	Status       string            `json:"status"`
	Integrations map[string]string `json:"integrations"`
	Uptime       string            `json:"uptime"`
	Version      string            `json:"version"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
