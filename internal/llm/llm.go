// Package llm scores answer transcripts against their question's rubric
// using a structured-output chat model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/speakexam/internal/llm/prompts"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrEvaluationFailed wraps provider and network failures. Scoped to a
// single answer; independently retryable.
var ErrEvaluationFailed = errors.New("evaluation failed")

// EvalInput carries everything the model needs to grade one transcript.
type EvalInput struct {
	QuestionText      string
	Transcript        string
	Language          string // test language, ISO 639-1
	KeyFactsToMention string
	KeyFactsToAvoid   string
	MaxPoints         int
}

// RubricResult is the validated, clamped outcome of one evaluation.
// Sub-scores are within [0,10], Overall within [0,100]; fields the model
// omitted are zero/empty, never an error.
type RubricResult struct {
	Fluency          float64  `json:"fluency"`
	Pronunciation    float64  `json:"pronunciation"`
	Vocabulary       float64  `json:"vocabulary"`
	Grammar          float64  `json:"grammar"`
	Relevance        float64  `json:"relevance"`
	Overall          float64  `json:"overall_score"`
	Feedback         string   `json:"feedback"`
	KeyPointsCovered []string `json:"key_points_covered"`
	KeyPointsMissed  []string `json:"key_points_missed"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
}

// Points converts the overall score into awarded points for a question.
func (r *RubricResult) Points(maxPoints int) float64 {
	if maxPoints <= 0 {
		return 0
	}
	return r.Overall / 100 * float64(maxPoints)
}

// Client wraps an OpenAI-compatible API client for rubric evaluation.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates an evaluation client and loads the prompt templates.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.Files); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping verifies the endpoint is reachable before the server starts
// accepting submissions.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// EvaluateTranscript grades one transcript. The response is requested as
// a JSON object and run through the strict parser; generative output is
// never trusted to stay in range.
func (c *Client) EvaluateTranscript(ctx context.Context, in EvalInput) (*RubricResult, error) {
	prompt, err := prompts.BuildEvalPrompt(c.variant, prompts.EvalData{
		QuestionText:      in.QuestionText,
		MaxPoints:         in.MaxPoints,
		Language:          languageName(in.Language),
		KeyFactsToMention: in.KeyFactsToMention,
		KeyFactsToAvoid:   in.KeyFactsToAvoid,
		Transcript:        in.Transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrEvaluationFailed)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("evaluation response", "raw", raw)

	result, err := ParseRubricResponse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse response: %v (raw: %s)", ErrEvaluationFailed, err, raw)
	}
	return result, nil
}

// ParseRubricResponse decodes a model response into a RubricResult,
// defaulting missing fields and clamping every numeric field to its
// declared range.
func ParseRubricResponse(raw []byte) (*RubricResult, error) {
	var r RubricResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}

	r.Fluency = clamp(r.Fluency, 0, 10)
	r.Pronunciation = clamp(r.Pronunciation, 0, 10)
	r.Vocabulary = clamp(r.Vocabulary, 0, 10)
	r.Grammar = clamp(r.Grammar, 0, 10)
	r.Relevance = clamp(r.Relevance, 0, 10)
	r.Overall = clamp(r.Overall, 0, 100)
	return &r, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

// languageName renders an ISO language code as its English name for the
// prompt ("ru" -> "Russian"). Unknown codes fall back to English.
func languageName(code string) string {
	if code == "" {
		return "English"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "English"
	}
	return display.English.Languages().Name(tag)
}
