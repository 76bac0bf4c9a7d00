package model

import (
	"time"
)

// SessionStatus represents the lifecycle status of a training session.
type SessionStatus string

const (
	// StatusActive is a session that can still be driven forward.
	StatusActive SessionStatus = "active"
	// StatusArchived is a soft-deleted session. Archived sessions are
	// invisible to the simulator but kept for the admin surface.
	StatusArchived SessionStatus = "archived"
)

// AnonymousStudent is the display name used when none was provided.
const AnonymousStudent = "Anonymous Student"

// Session is one student's complete run through one generated clinical case.
// The clinical case is set exactly once at creation and never overwritten;
// History grows by one turn per generated question and only its last element
// may be amended; FinalAssessment is set exactly once on conclusion.
type Session struct {
	SessionID       string        `json:"session_id"`
	StudentName     string        `json:"student_name"`
	Topic           string        `json:"topic"`
	ClinicalCase    string        `json:"clinical_case"`
	History         History       `json:"history"`
	FinalAssessment *string       `json:"final_assessment,omitempty"`
	TokensConsumed  int           `json:"tokens_consumed"`
	Status          SessionStatus `json:"status"`
	Revision        int64         `json:"revision"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Identity maps a transport credential (cookie token) to a session id.
// It carries only short-lived auxiliary fields; the Session document is the
// source of truth for everything else.
type Identity struct {
	Token       string    `json:"-"`
	SessionID   string    `json:"session_id"`
	StudentName string    `json:"student_name"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStats summarizes a session for the admin surface.
type SessionStats struct {
	SessionID          string    `json:"session_id"`
	StudentName        string    `json:"student_name"`
	Topic              string    `json:"topic"`
	TotalQuestions     int       `json:"total_questions"`
	CompletedTurns     int       `json:"completed_turns"`
	HasFinalAssessment bool      `json:"has_final_assessment"`
	TokensConsumed     int       `json:"tokens_consumed"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Stats computes per-session statistics.
func (s *Session) Stats() SessionStats {
	completed := 0
	for _, t := range s.History {
		if t.Answer != nil && t.Feedback != nil {
			completed++
		}
	}
	return SessionStats{
		SessionID:          s.SessionID,
		StudentName:        s.StudentName,
		Topic:              s.Topic,
		TotalQuestions:     len(s.History),
		CompletedTurns:     completed,
		HasFinalAssessment: s.FinalAssessment != nil,
		TokensConsumed:     s.TokensConsumed,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

// Config holds runtime server parameters set via CLI flags.
type Config struct {
	Addr          string
	DBPath        string
	LLMURL        string
	LLMKey        string
	LLMModel      string
	LLMTimeout    time.Duration
	Lang          string
	SecureCookies bool
	AdminHash     string // bcrypt hash of the admin password
}
