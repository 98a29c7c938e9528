// Package stt converts recorded answers into text.
package stt

import (
	"context"
	"errors"
)

// ErrTranscriptionFailed wraps every provider-side transcription failure:
// unreadable audio, upstream errors, timeouts. The failure is scoped to a
// single answer and never aborts its siblings.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Request holds the parameters for one audio transcription.
type Request struct {
	Audio    []byte
	Filename string // hint for the container format, e.g. "answer.webm"
	Language string // ISO 639-1, empty for auto-detect
	Prompt   string // optional vocabulary hint
}

// Result holds a finished transcription.
type Result struct {
	Text            string
	DurationSeconds float64
}

// Transcriber is the interface for speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
	Name() string
}
