// Package llm adapts an OpenAI-compatible chat completion API to the
// simulator's Backend interface.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anfarias/clinicase/internal/llm/prompts"
	"github.com/anfarias/clinicase/internal/model"
	"github.com/anfarias/clinicase/internal/sim"

	openai "github.com/sashabaranov/go-openai"
)

// Per-call generation parameters. Long-form calls (case, assessment) get a
// bigger budget at lower temperature; short-form calls (question, feedback)
// the reverse.
const (
	longFormMaxTokens  = 600
	longFormTemp       = 0.5
	shortFormMaxTokens = 200
	shortFormTemp      = 0.7
)

// Client wraps an OpenAI-compatible API client. It implements sim.Backend.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a client. baseURL may be empty to use the default endpoint;
// timeout bounds every individual API call.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Ping verifies the API endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// GenerateCase produces the clinical case text for a topic.
func (c *Client) GenerateCase(ctx context.Context, topic string) (sim.Generation, error) {
	prompt, err := prompts.BuildCasePrompt(topic)
	if err != nil {
		return sim.Generation{}, err
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemExaminer},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return c.complete(ctx, msgs, longFormMaxTokens, longFormTemp, nil)
}

// GenerateQuestion produces the next question. The prior conversation is
// replayed so the model does not repeat itself, and the prompt lead-in
// rotates with the turn index.
func (c *Client) GenerateQuestion(ctx context.Context, caseText string, history model.History) (sim.Generation, error) {
	prompt, err := prompts.BuildQuestionPrompt(caseText, len(history))
	if err != nil {
		return sim.Generation{}, err
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemExaminer},
	}
	msgs = append(msgs, exchangeMessages(history)...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return c.complete(ctx, msgs, shortFormMaxTokens, shortFormTemp, nil)
}

// JudgeAnswer asks for a strict boolean verdict on the student's answer.
func (c *Client) JudgeAnswer(ctx context.Context, caseText, question, answer string) (sim.Verdict, error) {
	prompt, err := prompts.BuildJudgePrompt(caseText, question, answer)
	if err != nil {
		return sim.Verdict{}, err
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemExaminer},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	gen, err := c.complete(ctx, msgs, shortFormMaxTokens, 0, format)
	if err != nil {
		return sim.Verdict{}, err
	}
	correct, err := parseVerdict(gen.Text)
	if err != nil {
		return sim.Verdict{}, err
	}
	return sim.Verdict{Correct: correct, TokensUsed: gen.TokensUsed}, nil
}

// GenerateFeedback produces constructive feedback on the answers so far.
func (c *Client) GenerateFeedback(ctx context.Context, caseText string, history model.History) (sim.Generation, error) {
	prompt, err := prompts.BuildFeedbackPrompt(caseText)
	if err != nil {
		return sim.Generation{}, err
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemReviewer},
	}
	msgs = append(msgs, exchangeMessages(history)...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return c.complete(ctx, msgs, shortFormMaxTokens, shortFormTemp, nil)
}

// GenerateFinalAssessment produces the structured end-of-session review.
func (c *Client) GenerateFinalAssessment(ctx context.Context, caseText string, history model.History) (sim.Generation, error) {
	prompt, err := prompts.BuildAssessmentPrompt(caseText)
	if err != nil {
		return sim.Generation{}, err
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemReviewer},
	}
	msgs = append(msgs, exchangeMessages(history)...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return c.complete(ctx, msgs, longFormMaxTokens, longFormTemp, nil)
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, maxTokens int, temperature float32, format *openai.ChatCompletionResponseFormat) (sim.Generation, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       msgs,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: format,
	})
	if err != nil {
		return sim.Generation{}, fmt.Errorf("LLM API call: %w: %w", err, model.ErrGeneration)
	}
	if len(resp.Choices) == 0 {
		return sim.Generation{}, fmt.Errorf("LLM returned no choices: %w", model.ErrGeneration)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "model", c.model, "tokens", resp.Usage.TotalTokens)
	return sim.Generation{Text: text, TokensUsed: resp.Usage.TotalTokens}, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// exchangeMessages flattens the turn history into chat messages, questions
// and feedback as assistant turns, answers as user turns.
func exchangeMessages(history model.History) []openai.ChatCompletionMessage {
	exchange := history.Exchange()
	msgs := make([]openai.ChatCompletionMessage, 0, len(exchange))
	for _, m := range exchange {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleExaminer {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}

// parseVerdict extracts the {"correct": bool} verdict from the model
// output. A missing or non-boolean field is a generation failure, never a
// default verdict.
func parseVerdict(raw string) (bool, error) {
	payload := strings.TrimSpace(raw)
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}

	var verdict struct {
		Correct *bool `json:"correct"`
	}
	if err := json.Unmarshal([]byte(payload), &verdict); err != nil {
		return false, fmt.Errorf("parse verdict %q: %w: %w", raw, err, model.ErrGeneration)
	}
	if verdict.Correct == nil {
		return false, fmt.Errorf("verdict %q missing correct field: %w", raw, model.ErrGeneration)
	}
	return *verdict.Correct, nil
}
