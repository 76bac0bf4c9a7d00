package model

import (
	"fmt"
	"strings"
	"time"
)

// Canonical feedback strings. NeedsGeneratedFeedback compares against
// FeedbackCorrect byte-for-byte, so these are fixed constants rather than
// localized messages.
const (
	FeedbackCorrect   = "The answer is correct!"
	FeedbackIncorrect = "The answer is incorrect!"
)

// Turn is one question/answer/feedback record within a session. A turn is
// created with the question set and answer/feedback nil; only the most
// recent turn of a history may ever be amended.
type Turn struct {
	Question  string     `json:"question"`
	Answer    *string    `json:"answer"`
	Feedback  *string    `json:"feedback"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Completed reports whether the turn has both an answer and feedback.
func (t Turn) Completed() bool {
	return t.Answer != nil && t.Feedback != nil
}

// History is the ordered sequence of turns for one session. Insertion order
// is question order. All operations are pure: they return a fresh slice and
// never mutate the receiver, so a caller holding the old value keeps it.
type History []Turn

// TurnUpdate carries the fields of a last-turn amendment. Nil fields are
// left untouched on the existing turn.
type TurnUpdate struct {
	Answer   *string
	Feedback *string
}

// AppendQuestion returns a new history with one additional open turn.
func (h History) AppendQuestion(question string) (History, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("append question: %w", ErrEmptyQuestion)
	}
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, Turn{
		Question:  question,
		CreatedAt: time.Now().UTC(),
	}), nil
}

// AmendLast returns a new history with the provided fields merged into the
// last turn. Earlier turns are immutable once appended.
func (h History) AmendLast(upd TurnUpdate) (History, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("amend last turn: %w", ErrEmptyHistory)
	}
	out := make(History, len(h))
	copy(out, h)

	last := out[len(out)-1]
	if upd.Answer != nil {
		answer := strings.TrimSpace(*upd.Answer)
		last.Answer = &answer
	}
	if upd.Feedback != nil {
		feedback := strings.TrimSpace(*upd.Feedback)
		last.Feedback = &feedback
	}
	now := time.Now().UTC()
	last.UpdatedAt = &now

	out[len(out)-1] = last
	return out, nil
}

// LastQuestion returns the question of the most recent turn.
func (h History) LastQuestion() (string, error) {
	if len(h) == 0 {
		return "", ErrNoQuestion
	}
	q := h[len(h)-1].Question
	if strings.TrimSpace(q) == "" {
		return "", ErrNoQuestion
	}
	return q, nil
}

// NeedsGeneratedFeedback decides whether an incorrect answer warrants a
// generated feedback call instead of the canned message. The first question
// has no predecessor to compare, and a streak whose previous turn was
// already judged correct gets the canned message only. This is a
// cost-control heuristic over the backend, not a correctness rule.
func (h History) NeedsGeneratedFeedback() bool {
	if len(h) <= 1 {
		return false
	}
	prev := h[len(h)-2].Feedback
	return prev == nil || *prev != FeedbackCorrect
}

// ExchangeRole is a chat role in a flattened history.
type ExchangeRole string

const (
	RoleStudent  ExchangeRole = "user"
	RoleExaminer ExchangeRole = "assistant"
)

// ExchangeMessage is one entry of a history flattened for the backend.
type ExchangeMessage struct {
	Role    ExchangeRole `json:"role"`
	Content string       `json:"content"`
}

// Exchange flattens the history into an ordered conversation: each turn
// contributes up to three entries (question, answer, feedback), skipping
// any that are unset, preserving turn order.
func (h History) Exchange() []ExchangeMessage {
	var msgs []ExchangeMessage
	for _, t := range h {
		if t.Question != "" {
			msgs = append(msgs, ExchangeMessage{Role: RoleExaminer, Content: t.Question})
		}
		if t.Answer != nil && *t.Answer != "" {
			msgs = append(msgs, ExchangeMessage{Role: RoleStudent, Content: *t.Answer})
		}
		if t.Feedback != nil && *t.Feedback != "" {
			msgs = append(msgs, ExchangeMessage{Role: RoleExaminer, Content: *t.Feedback})
		}
	}
	return msgs
}
