package stt

import (
	"context"
	"errors"
	"testing"
)

func TestWhisperRejectsEmptyAudio(t *testing.T) {
	w := NewWhisper("", "key", "")
	_, err := w.Transcribe(context.Background(), Request{})
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}

func TestWhisperDefaults(t *testing.T) {
	w := NewWhisper("http://localhost:9999/v1", "key", "")
	if w.model != "whisper-1" {
		t.Errorf("expected whisper-1 default model, got %q", w.model)
	}
	if w.Name() != "whisper" {
		t.Errorf("expected provider name whisper, got %q", w.Name())
	}
}
