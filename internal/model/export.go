package model

import "time"

// TrainingExport is the top-level JSON structure for session export.
type TrainingExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Total      int             `json:"total"`
	Sessions   []SessionResult `json:"sessions"`
}

// SessionResult holds one student's training run for export.
type SessionResult struct {
	SessionID       string        `json:"session_id"`
	StudentName     string        `json:"student_name"`
	Topic           string        `json:"topic"`
	ClinicalCase    string        `json:"clinical_case"`
	Status          SessionStatus `json:"status"`
	Turns           []Turn        `json:"turns"`
	FinalAssessment *string       `json:"final_assessment,omitempty"`
	TokensConsumed  int           `json:"tokens_consumed"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
