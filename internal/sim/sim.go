// Package sim drives the conversation state machine of a training session:
// case initiation, question issuance, answer correction, and the final
// assessment. Session state is never cached across requests; every
// transition re-fetches the document and persists through a revision
// compare-and-swap.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anfarias/clinicase/internal/model"
	"github.com/anfarias/clinicase/internal/store"
)

// MaxTurns is the fixed question count after which the simulation concludes.
const MaxTurns = 10

// Generation is the outcome of a text-producing backend call.
type Generation struct {
	Text       string
	TokensUsed int
}

// Verdict is the outcome of a judgment call. Correct is a strict boolean:
// the adapter fails rather than defaulting on malformed output.
type Verdict struct {
	Correct    bool
	TokensUsed int
}

// Backend is the generative collaborator. It is stateless and knows nothing
// about sessions; history is passed in flattened on every call.
type Backend interface {
	GenerateCase(ctx context.Context, topic string) (Generation, error)
	GenerateQuestion(ctx context.Context, caseText string, history model.History) (Generation, error)
	JudgeAnswer(ctx context.Context, caseText, question, answer string) (Verdict, error)
	GenerateFeedback(ctx context.Context, caseText string, history model.History) (Generation, error)
	GenerateFinalAssessment(ctx context.Context, caseText string, history model.History) (Generation, error)
}

// Simulator coordinates the session store and the generative backend.
// Construct one at process start and share it across requests.
type Simulator struct {
	store   *store.Store
	backend Backend
}

func New(st *store.Store, backend Backend) *Simulator {
	return &Simulator{store: st, backend: backend}
}

// InitiateResult is returned by Initiate.
type InitiateResult struct {
	SessionID    string `json:"session_id"`
	Topic        string `json:"topic"`
	ClinicalCase string `json:"clinical_case"`
	TokensUsed   int    `json:"tokens_used"`
}

// Initiate draws a topic, generates the clinical case, and creates the
// session document. On backend failure no partial session is persisted.
func (s *Simulator) Initiate(ctx context.Context, sessionID, studentName string) (*InitiateResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id: %w", model.ErrInvalidInput)
	}
	if existing, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrSessionExists)
	}

	topic := DrawTopic()
	slog.Info("initiating session", "session_id", sessionID, "topic", topic)

	gen, err := s.backend.GenerateCase(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("generate case: %w", err)
	}
	if strings.TrimSpace(gen.Text) == "" {
		return nil, fmt.Errorf("generate case: empty case text: %w", model.ErrGeneration)
	}

	studentName = strings.TrimSpace(studentName)
	if studentName == "" {
		studentName = model.AnonymousStudent
	}

	sess := model.Session{
		SessionID:      sessionID,
		StudentName:    studentName,
		Topic:          topic,
		ClinicalCase:   gen.Text,
		History:        model.History{},
		TokensConsumed: gen.TokensUsed,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}

	return &InitiateResult{
		SessionID:    sessionID,
		Topic:        topic,
		ClinicalCase: gen.Text,
		TokensUsed:   gen.TokensUsed,
	}, nil
}

// QuestionResult is returned by AskQuestion.
type QuestionResult struct {
	Question   string `json:"question"`
	HistoryLen int    `json:"history_len"`
	TokensUsed int    `json:"tokens_used"`
}

// AskQuestion generates the next question and appends an open turn.
func (s *Simulator) AskQuestion(ctx context.Context, sessionID string) (*QuestionResult, error) {
	sess, err := s.mustGet(sessionID)
	if err != nil {
		return nil, err
	}

	gen, err := s.backend.GenerateQuestion(ctx, sess.ClinicalCase, sess.History)
	if err != nil {
		return nil, fmt.Errorf("generate question: %w", err)
	}

	history, err := sess.History.AppendQuestion(gen.Text)
	if err != nil {
		// A blank question is backend misbehavior, not caller input.
		return nil, fmt.Errorf("%w: %w", model.ErrGeneration, err)
	}

	if err := s.store.UpdateHistory(sessionID, history, gen.TokensUsed, sess.Revision); err != nil {
		return nil, err
	}

	slog.Info("question appended", "session_id", sessionID, "history_len", len(history), "tokens", gen.TokensUsed)
	return &QuestionResult{
		Question:   history[len(history)-1].Question,
		HistoryLen: len(history),
		TokensUsed: gen.TokensUsed,
	}, nil
}

// CorrectResult is returned by Correct. CompletedTurns lets the caller
// decide whether to continue or conclude; Done flags the turn threshold.
type CorrectResult struct {
	Feedback       string `json:"feedback"`
	Correct        bool   `json:"correct"`
	CompletedTurns int    `json:"completed_turns"`
	Done           bool   `json:"done"`
	TokensUsed     int    `json:"tokens_used"`
}

// Correct judges the student's answer to the pending question and amends
// the last turn with answer and feedback. A correct answer gets the canned
// positive message; an incorrect one gets generated feedback unless the
// history policy says the canned negative message suffices.
func (s *Simulator) Correct(ctx context.Context, sessionID, answer string) (*CorrectResult, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("answer: %w", model.ErrInvalidInput)
	}

	sess, err := s.mustGet(sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.History) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNoPendingQuestion)
	}
	question, err := sess.History.LastQuestion()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNoPendingQuestion)
	}

	verdict, err := s.backend.JudgeAnswer(ctx, sess.ClinicalCase, question, answer)
	if err != nil {
		return nil, fmt.Errorf("judge answer: %w", err)
	}
	tokens := verdict.TokensUsed

	feedback := model.FeedbackIncorrect
	if verdict.Correct {
		feedback = model.FeedbackCorrect
	} else if sess.History.NeedsGeneratedFeedback() {
		gen, err := s.backend.GenerateFeedback(ctx, sess.ClinicalCase, sess.History)
		if err != nil {
			return nil, fmt.Errorf("generate feedback: %w", err)
		}
		if strings.TrimSpace(gen.Text) != "" {
			feedback = gen.Text
		}
		tokens += gen.TokensUsed
	}

	history, err := sess.History.AmendLast(model.TurnUpdate{Answer: &answer, Feedback: &feedback})
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateHistory(sessionID, history, tokens, sess.Revision); err != nil {
		return nil, err
	}

	slog.Info("answer corrected", "session_id", sessionID,
		"correct", verdict.Correct, "completed_turns", len(history), "tokens", tokens)
	return &CorrectResult{
		Feedback:       feedback,
		Correct:        verdict.Correct,
		CompletedTurns: len(history),
		Done:           len(history) >= MaxTurns,
		TokensUsed:     tokens,
	}, nil
}

// ConcludeResult is returned by Conclude.
type ConcludeResult struct {
	Assessment     string `json:"assessment"`
	AlreadyExisted bool   `json:"already_existed"`
	TokensUsed     int    `json:"tokens_used"`
}

// Conclude produces the final structured assessment exactly once. Repeated
// calls return the stored text without invoking the backend, and the turn
// history is left untouched either way.
func (s *Simulator) Conclude(ctx context.Context, sessionID string) (*ConcludeResult, error) {
	sess, err := s.mustGet(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.FinalAssessment != nil {
		return &ConcludeResult{Assessment: *sess.FinalAssessment, AlreadyExisted: true}, nil
	}

	gen, err := s.backend.GenerateFinalAssessment(ctx, sess.ClinicalCase, sess.History)
	if err != nil {
		return nil, fmt.Errorf("generate final assessment: %w", err)
	}
	if strings.TrimSpace(gen.Text) == "" {
		return nil, fmt.Errorf("generate final assessment: empty text: %w", model.ErrGeneration)
	}

	if err := s.store.SetFinalAssessment(sessionID, gen.Text, gen.TokensUsed, sess.Revision); err != nil {
		return nil, err
	}

	slog.Info("session concluded", "session_id", sessionID, "turns", len(sess.History), "tokens", gen.TokensUsed)
	return &ConcludeResult{Assessment: gen.Text, TokensUsed: gen.TokensUsed}, nil
}

// Transcript is the full reconstructed view of a session.
type Transcript struct {
	SessionID       string        `json:"session_id"`
	StudentName     string        `json:"student_name"`
	Topic           string        `json:"topic"`
	ClinicalCase    string        `json:"clinical_case"`
	History         model.History `json:"history"`
	Total           int           `json:"total"`
	FinalAssessment *string       `json:"final_assessment,omitempty"`
	TokensConsumed  int           `json:"tokens_consumed"`
}

// GetTranscript returns the session's history and metadata.
func (s *Simulator) GetTranscript(ctx context.Context, sessionID string) (*Transcript, error) {
	sess, err := s.mustGet(sessionID)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		SessionID:       sess.SessionID,
		StudentName:     sess.StudentName,
		Topic:           sess.Topic,
		ClinicalCase:    sess.ClinicalCase,
		History:         sess.History,
		Total:           len(sess.History),
		FinalAssessment: sess.FinalAssessment,
		TokensConsumed:  sess.TokensConsumed,
	}, nil
}

func (s *Simulator) mustGet(sessionID string) (*model.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id: %w", model.ErrInvalidInput)
	}
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrSessionNotFound)
	}
	return sess, nil
}
