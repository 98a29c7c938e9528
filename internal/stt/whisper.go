package stt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Whisper transcribes audio through an OpenAI-compatible audio endpoint.
type Whisper struct {
	api   *openai.Client
	model string
}

// NewWhisper creates a Whisper transcriber. baseURL may point at any
// OpenAI-compatible server; model defaults to whisper-1.
func NewWhisper(baseURL, apiKey, model string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{
		api:   openai.NewClientWithConfig(config),
		model: model,
	}
}

// Name identifies the backend for logging.
func (w *Whisper) Name() string { return "whisper" }

// Transcribe sends one audio answer for transcription. Verbose JSON is
// requested so the provider reports the measured audio duration.
func (w *Whisper) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, fmt.Errorf("%w: empty audio", ErrTranscriptionFailed)
	}

	filename := req.Filename
	if filename == "" {
		filename = "answer.webm"
	}

	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(req.Audio),
		Language: req.Language,
		Prompt:   req.Prompt,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	slog.Debug("transcription done",
		"provider", w.Name(),
		"bytes", len(req.Audio),
		"duration", resp.Duration,
		"chars", len(text),
	)

	return Result{Text: text, DurationSeconds: resp.Duration}, nil
}
