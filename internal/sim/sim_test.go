package sim

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/anfarias/clinicase/internal/model"
	"github.com/anfarias/clinicase/internal/store"
)

// fakeBackend is a scriptable Backend for orchestrator tests.
type fakeBackend struct {
	failCase       bool
	failQuestion   bool
	caseText       string
	verdicts       []bool // consumed per JudgeAnswer call
	questionCalls  int
	judgeCalls     int
	feedbackCalls  int
	assessCalls    int
}

func (f *fakeBackend) GenerateCase(_ context.Context, topic string) (Generation, error) {
	if f.failCase {
		return Generation{}, fmt.Errorf("backend outage: %w", model.ErrGeneration)
	}
	text := f.caseText
	if text == "" {
		text = "Case for " + topic
	}
	return Generation{Text: text, TokensUsed: 500}, nil
}

func (f *fakeBackend) GenerateQuestion(_ context.Context, _ string, history model.History) (Generation, error) {
	if f.failQuestion {
		return Generation{}, fmt.Errorf("backend outage: %w", model.ErrGeneration)
	}
	f.questionCalls++
	return Generation{Text: fmt.Sprintf("Question %d?", len(history)+1), TokensUsed: 100}, nil
}

func (f *fakeBackend) JudgeAnswer(_ context.Context, _, _, _ string) (Verdict, error) {
	verdict := true
	if f.judgeCalls < len(f.verdicts) {
		verdict = f.verdicts[f.judgeCalls]
	}
	f.judgeCalls++
	return Verdict{Correct: verdict, TokensUsed: 50}, nil
}

func (f *fakeBackend) GenerateFeedback(_ context.Context, _ string, _ model.History) (Generation, error) {
	f.feedbackCalls++
	return Generation{Text: "Review the priority of airway management.", TokensUsed: 150}, nil
}

func (f *fakeBackend) GenerateFinalAssessment(_ context.Context, _ string, history model.History) (Generation, error) {
	f.assessCalls++
	return Generation{Text: fmt.Sprintf("Final assessment over %d turns.", len(history)), TokensUsed: 300}, nil
}

func newTestSim(t *testing.T, backend Backend) (*Simulator, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, backend), st
}

func TestInitiate(t *testing.T) {
	sim, st := newTestSim(t, &fakeBackend{})
	ctx := context.Background()

	res, err := sim.Initiate(ctx, "s1", "Maria")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.Topic == "" || res.ClinicalCase == "" {
		t.Errorf("expected topic and case, got %+v", res)
	}
	if res.TokensUsed != 500 {
		t.Errorf("expected 500 tokens, got %d", res.TokensUsed)
	}

	sess, err := st.GetSession("s1")
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.StudentName != "Maria" {
		t.Errorf("expected student name Maria, got %q", sess.StudentName)
	}
	if len(sess.History) != 0 || sess.FinalAssessment != nil {
		t.Error("fresh session should have empty history and nil assessment")
	}

	// Re-initiating the same session is rejected; the case is immutable.
	if _, err := sim.Initiate(ctx, "s1", "Maria"); !errors.Is(err, model.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	if _, err := sim.Initiate(ctx, "  ", "Maria"); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for blank id, got %v", err)
	}
}

func TestInitiateBackendFailureLeavesNoSession(t *testing.T) {
	sim, st := newTestSim(t, &fakeBackend{failCase: true})
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", "Maria"); !errors.Is(err, model.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}

	// No partial write.
	sess, err := st.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Fatal("failed initiation must not persist a session")
	}

	// A later transition for that id fails with SessionNotFound.
	if _, err := sim.AskQuestion(ctx, "s1"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInitiateEmptyCaseText(t *testing.T) {
	sim, st := newTestSim(t, &fakeBackend{caseText: "   "})
	if _, err := sim.Initiate(context.Background(), "s1", ""); !errors.Is(err, model.ErrGeneration) {
		t.Fatalf("expected ErrGeneration for empty case text, got %v", err)
	}
	if sess, _ := st.GetSession("s1"); sess != nil {
		t.Error("empty case text must not persist a session")
	}
}

func TestAskQuestion(t *testing.T) {
	sim, _ := newTestSim(t, &fakeBackend{})
	ctx := context.Background()

	if _, err := sim.AskQuestion(ctx, "missing"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := sim.Initiate(ctx, "s1", ""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	q1, err := sim.AskQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if q1.HistoryLen != 1 {
		t.Errorf("expected history length 1, got %d", q1.HistoryLen)
	}
	if q1.Question != "Question 1?" {
		t.Errorf("unexpected question: %q", q1.Question)
	}

	q2, err := sim.AskQuestion(ctx, "s1")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if q2.HistoryLen != 2 {
		t.Errorf("expected history length 2, got %d", q2.HistoryLen)
	}
}

func TestCorrectGuards(t *testing.T) {
	backend := &fakeBackend{}
	sim, st := newTestSim(t, backend)
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", ""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Empty answer is rejected before any backend call.
	if _, err := sim.Correct(ctx, "s1", "  "); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	// Empty history has no pending question and no side effects.
	if _, err := sim.Correct(ctx, "s1", "an answer"); !errors.Is(err, model.ErrNoPendingQuestion) {
		t.Fatalf("expected ErrNoPendingQuestion, got %v", err)
	}
	if backend.judgeCalls != 0 {
		t.Error("guard failure must not reach the backend")
	}
	sess, _ := st.GetSession("s1")
	if len(sess.History) != 0 || sess.Revision != 0 {
		t.Error("guard failure must leave the session untouched")
	}
}

func TestCorrectFeedbackPolicy(t *testing.T) {
	// Turn 1 wrong, turn 2 wrong, turn 3 right, turn 4 wrong.
	backend := &fakeBackend{verdicts: []bool{false, false, true, false}}
	sim, _ := newTestSim(t, backend)
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", ""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Turn 1: wrong, but a single-turn history never generates feedback.
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	res, err := sim.Correct(ctx, "s1", "wrong answer")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Feedback != model.FeedbackIncorrect {
		t.Errorf("turn 1: expected canned incorrect, got %q", res.Feedback)
	}
	if backend.feedbackCalls != 0 {
		t.Errorf("turn 1: expected no feedback call, got %d", backend.feedbackCalls)
	}

	// Turn 2: wrong, previous feedback was the canned incorrect string, so
	// richer feedback is generated.
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	res, err = sim.Correct(ctx, "s1", "still wrong")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Feedback == model.FeedbackIncorrect {
		t.Error("turn 2: expected generated feedback")
	}
	if backend.feedbackCalls != 1 {
		t.Errorf("turn 2: expected 1 feedback call, got %d", backend.feedbackCalls)
	}

	// Turn 3: right answer gets the canned positive message.
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	res, err = sim.Correct(ctx, "s1", "right answer")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Feedback != model.FeedbackCorrect || !res.Correct {
		t.Errorf("turn 3: expected canned correct, got %q", res.Feedback)
	}

	// Turn 4: wrong, but the previous turn was judged correct, so the
	// canned negative message suffices.
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	res, err = sim.Correct(ctx, "s1", "wrong again")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if res.Feedback != model.FeedbackIncorrect {
		t.Errorf("turn 4: expected canned incorrect, got %q", res.Feedback)
	}
	if backend.feedbackCalls != 1 {
		t.Errorf("turn 4: expected no extra feedback call, got %d", backend.feedbackCalls)
	}
}

func TestConcludeIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	sim, st := newTestSim(t, backend)
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", ""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if _, err := sim.Correct(ctx, "s1", "answer"); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	before, _ := st.GetSession("s1")

	first, err := sim.Conclude(ctx, "s1")
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if first.AlreadyExisted {
		t.Error("first conclusion reported as existing")
	}
	if first.Assessment == "" {
		t.Error("expected assessment text")
	}

	second, err := sim.Conclude(ctx, "s1")
	if err != nil {
		t.Fatalf("second Conclude: %v", err)
	}
	if !second.AlreadyExisted {
		t.Error("second conclusion should report already existed")
	}
	if second.Assessment != first.Assessment {
		t.Errorf("assessment changed between calls: %q vs %q", first.Assessment, second.Assessment)
	}
	if backend.assessCalls != 1 {
		t.Errorf("expected exactly 1 assessment call, got %d", backend.assessCalls)
	}

	// History untouched across both calls.
	after, _ := st.GetSession("s1")
	if len(after.History) != len(before.History) {
		t.Errorf("history length changed by conclusion: %d -> %d", len(before.History), len(after.History))
	}
}

func TestFullSimulationRun(t *testing.T) {
	// Alternate right and wrong answers across the ten turns.
	verdicts := make([]bool, MaxTurns)
	for i := range verdicts {
		verdicts[i] = i%2 == 0
	}
	backend := &fakeBackend{verdicts: verdicts}
	sim, st := newTestSim(t, backend)
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", "Maria"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	var last *CorrectResult
	for i := 0; i < MaxTurns; i++ {
		q, err := sim.AskQuestion(ctx, "s1")
		if err != nil {
			t.Fatalf("AskQuestion %d: %v", i+1, err)
		}
		if q.HistoryLen != i+1 {
			t.Fatalf("question %d: expected history length %d, got %d", i+1, i+1, q.HistoryLen)
		}

		last, err = sim.Correct(ctx, "s1", fmt.Sprintf("answer %d", i+1))
		if err != nil {
			t.Fatalf("Correct %d: %v", i+1, err)
		}
		if last.CompletedTurns != i+1 {
			t.Fatalf("correct %d: expected %d completed turns, got %d", i+1, i+1, last.CompletedTurns)
		}
	}
	if !last.Done {
		t.Error("tenth correction should signal done")
	}

	res, err := sim.Conclude(ctx, "s1")
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if res.Assessment == "" {
		t.Error("expected non-empty final assessment")
	}

	sess, _ := st.GetSession("s1")
	if len(sess.History) != MaxTurns {
		t.Fatalf("expected %d turns, got %d", MaxTurns, len(sess.History))
	}
	for i, turn := range sess.History {
		if turn.Answer == nil || turn.Feedback == nil {
			t.Errorf("turn %d incomplete: %+v", i+1, turn)
		}
	}
	if sess.FinalAssessment == nil {
		t.Fatal("expected final assessment persisted")
	}
	// 500 (case) + 10*(100 question + 50 judge) + generated feedback + 300 final.
	if sess.TokensConsumed <= 500 {
		t.Errorf("token counter did not accumulate: %d", sess.TokensConsumed)
	}

	tr, err := sim.GetTranscript(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if tr.Total != MaxTurns || tr.StudentName != "Maria" {
		t.Errorf("unexpected transcript: total=%d student=%q", tr.Total, tr.StudentName)
	}
}

func TestAskQuestionBackendFailureKeepsState(t *testing.T) {
	backend := &fakeBackend{}
	sim, st := newTestSim(t, backend)
	ctx := context.Background()

	if _, err := sim.Initiate(ctx, "s1", ""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}

	before, _ := st.GetSession("s1")
	backend.failQuestion = true
	if _, err := sim.AskQuestion(ctx, "s1"); !errors.Is(err, model.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}

	// Prior persisted state unchanged; the caller may retry.
	after, _ := st.GetSession("s1")
	if len(after.History) != len(before.History) || after.Revision != before.Revision {
		t.Error("failed transition must not change persisted state")
	}

	backend.failQuestion = false
	if _, err := sim.AskQuestion(ctx, "s1"); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestDrawTopic(t *testing.T) {
	valid := make(map[string]bool)
	for _, topic := range Topics() {
		valid[topic] = true
	}
	if len(valid) != 10 {
		t.Fatalf("expected 10 distinct topics, got %d", len(valid))
	}
	for i := 0; i < 50; i++ {
		if topic := DrawTopic(); !valid[topic] {
			t.Fatalf("drew unknown topic %q", topic)
		}
	}
}
