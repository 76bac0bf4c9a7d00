package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anfarias/clinicase/internal/model"
)

// identityTTL is the fixed absolute expiry of a client credential.
const identityTTL = 24 * time.Hour

// IssueIdentity creates a new client credential bound to a fresh session id.
// The token goes into the transport cookie; the session id keys the durable
// session document once the case is initiated.
func (s *Store) IssueIdentity(studentName string) (*model.Identity, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	studentName = strings.TrimSpace(studentName)
	if studentName == "" {
		studentName = model.AnonymousStudent
	}
	now := time.Now().UTC()
	ident := &model.Identity{
		Token:       token,
		SessionID:   uuid.NewString(),
		StudentName: studentName,
		IssuedAt:    now,
		ExpiresAt:   now.Add(identityTTL),
	}
	_, err = s.db.Exec(
		`INSERT INTO identities (token, session_id, student_name, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ident.Token, ident.SessionID, ident.StudentName, ident.IssuedAt, ident.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return ident, nil
}

// ResolveIdentity maps a credential token to its identity. Expired
// credentials are removed on detection.
func (s *Store) ResolveIdentity(token string) (*model.Identity, error) {
	if token == "" {
		return nil, model.ErrNoIdentity
	}
	var ident model.Identity
	err := s.db.QueryRow(
		`SELECT token, session_id, student_name, issued_at, expires_at FROM identities WHERE token = ?`,
		token,
	).Scan(&ident.Token, &ident.SessionID, &ident.StudentName, &ident.IssuedAt, &ident.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if time.Now().After(ident.ExpiresAt) {
		_ = s.DeleteIdentity(token)
		return nil, model.ErrIdentityExpired
	}
	return &ident, nil
}

// SetIdentityName updates the student name draft kept with the credential.
func (s *Store) SetIdentityName(token, studentName string) error {
	studentName = strings.TrimSpace(studentName)
	if studentName == "" {
		return fmt.Errorf("student name: %w", model.ErrInvalidInput)
	}
	res, err := s.db.Exec(`UPDATE identities SET student_name = ? WHERE token = ?`, studentName, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNoIdentity
	}
	return nil
}

// DeleteIdentity removes a credential.
func (s *Store) DeleteIdentity(token string) error {
	_, err := s.db.Exec(`DELETE FROM identities WHERE token = ?`, token)
	return err
}

// CleanupExpiredIdentities removes all credentials past their expiry.
func (s *Store) CleanupExpiredIdentities() error {
	_, err := s.db.Exec(`DELETE FROM identities WHERE expires_at < ?`, time.Now().UTC())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
