package model

import "errors"

// Error kinds shared across packages. Components wrap these with
// fmt.Errorf("...: %w", ...) and the HTTP layer maps them to status codes
// with errors.Is.
var (
	// ErrInvalidInput is a missing or empty required field. Detected before
	// any backend or store call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound means the session id does not resolve to an active
	// session document.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists guards the create-once clinical case: a session may
	// only be initiated once.
	ErrSessionExists = errors.New("session already initiated")

	// ErrNoPendingQuestion means Correct was called with an empty history.
	ErrNoPendingQuestion = errors.New("no pending question to correct")

	// ErrGeneration is a failed backend call or unparsable/empty content.
	ErrGeneration = errors.New("generation failed")

	// ErrConflict is a stale write rejected by the revision check.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvariant is a logic defect, never caught-and-continued.
	ErrInvariant = errors.New("invariant violation")

	// ErrNoIdentity means no credential was ever issued for this client.
	ErrNoIdentity = errors.New("no session identity")

	// ErrIdentityExpired means the credential passed its absolute expiry.
	ErrIdentityExpired = errors.New("session identity expired")

	// ErrEmptyHistory is returned by history amendments on zero turns.
	ErrEmptyHistory = errors.New("history has no turns")

	// ErrNoQuestion means the last turn is absent or its question is empty.
	ErrNoQuestion = errors.New("last question not found")

	// ErrEmptyQuestion rejects appending a blank question.
	ErrEmptyQuestion = errors.New("question text is empty")
)
