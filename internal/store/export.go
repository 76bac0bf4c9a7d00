package store

import (
	"fmt"
	"time"

	"github.com/anfarias/clinicase/internal/model"
)

// ExportAllSessions builds an export-ready snapshot of every session,
// archived ones included.
func (s *Store) ExportAllSessions() (*model.TrainingExport, error) {
	sessions, err := s.ListAllSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	results := make([]model.SessionResult, 0, len(sessions))
	for _, sess := range sessions {
		results = append(results, model.SessionResult{
			SessionID:       sess.SessionID,
			StudentName:     sess.StudentName,
			Topic:           sess.Topic,
			ClinicalCase:    sess.ClinicalCase,
			Status:          sess.Status,
			Turns:           sess.History,
			FinalAssessment: sess.FinalAssessment,
			TokensConsumed:  sess.TokensConsumed,
			CreatedAt:       sess.CreatedAt,
			UpdatedAt:       sess.UpdatedAt,
		})
	}

	return &model.TrainingExport{
		ExportedAt: time.Now().UTC(),
		Total:      len(results),
		Sessions:   results,
	}, nil
}
