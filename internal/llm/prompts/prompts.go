// Package prompts builds the prompt texts sent to the generative backend.
// Templates live in the embedded templates/ directory and are parsed once.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

// SystemExaminer frames question generation and correction calls.
const SystemExaminer = `You are a specialist in technical nursing education, with deep knowledge of the duties and ethical conduct of a nursing technician.
Your role is to create questions for students and correct them, based on clinical case studies, evaluating competencies and practical applicability in the professional routine.
The questions must be objective, clear and directly related to the professional practice of a nursing technician. The answers should drive the case toward an outcome:
- Favorable: the patient is diagnosed and recovers well after treatment.
- Unfavorable: the patient deteriorates after a conduct error or delay.
- Closed: the patient is referred to another facility and lost to follow-up.
Always respect the ethical and professional conduct the role requires, in both question generation and correction.`

// SystemReviewer frames feedback and final-assessment calls.
const SystemReviewer = `You are a specialist in technical nursing education, with deep knowledge of the duties and ethical conduct of a nursing technician.
Your role is to analyze students' answers to questions, based on the clinical case study, evaluating competencies and practical applicability in the professional routine.
The questions were directly related to the professional practice of a nursing technician. The answers should drive the case toward an outcome:
- Favorable: the patient is diagnosed and recovers well after treatment.
- Unfavorable: the patient deteriorates after a conduct error or delay.
- Closed: the patient is referred to another facility and lost to follow-up.
Always respect the ethical and professional conduct the role requires. Give consistent, constructive feedback, highlighting strengths and areas for improvement.`

// questionLeadIns vary the question prompt across turns. The turn index
// rotates through them so consecutive questions do not repeat a framing.
var questionLeadIns = []string{
	"Based on this clinical case, propose a challenging question that stimulates deep clinical reasoning.",
	"Imagine you are the evaluator: what question would you ask the student to assess their clinical judgment about this case?",
	"Formulate a practical, applied question (not merely theoretical) that forces the student to prioritize interventions in this case.",
	"Create a clinical-level question (focused on diagnosis or conduct) that explores common learning gaps in the case below.",
	"Propose a realistic question a junior professional might face when caring for this patient; make it objective and demanding.",
	"Generate a question that makes the student justify decisions (diagnosis, exams or treatments) based on this case.",
}

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

func load() error {
	loadOnce.Do(func() {
		names := []string{"case", "question", "judge", "feedback", "assessment"}
		templates = make(map[string]*template.Template, len(names))
		for _, name := range names {
			file := "templates/" + name + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func render(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates[name].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// BuildCasePrompt builds the clinical case generation prompt for a topic.
func BuildCasePrompt(topic string) (string, error) {
	return render("case", struct{ Topic string }{Topic: topic})
}

// BuildQuestionPrompt builds the next-question prompt. turnIndex is the
// number of turns already in the history and selects the lead-in rotation.
func BuildQuestionPrompt(caseText string, turnIndex int) (string, error) {
	if turnIndex < 0 {
		turnIndex = 0
	}
	return render("question", struct {
		LeadIn   string
		CaseText string
	}{
		LeadIn:   questionLeadIns[turnIndex%len(questionLeadIns)],
		CaseText: caseText,
	})
}

// BuildJudgePrompt builds the answer-judgment prompt. The student's answer
// is sanitized before interpolation.
func BuildJudgePrompt(caseText, question, answer string) (string, error) {
	return render("judge", struct {
		CaseText string
		Question string
		Answer   string
	}{
		CaseText: caseText,
		Question: question,
		Answer:   SanitizeAnswer(answer),
	})
}

// BuildFeedbackPrompt builds the per-turn feedback prompt.
func BuildFeedbackPrompt(caseText string) (string, error) {
	return render("feedback", struct{ CaseText string }{CaseText: caseText})
}

// BuildAssessmentPrompt builds the final assessment prompt.
func BuildAssessmentPrompt(caseText string) (string, error) {
	return render("assessment", struct{ CaseText string }{CaseText: caseText})
}

// SanitizeAnswer strips tag-like injection markers from student input and
// truncates oversized answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
