// Package prompts builds the rubric evaluation prompts sent to the
// grading model. Templates are embedded and come in three strictness
// variants.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var Files embed.FS

var (
	transcriptTagRegex   = regexp.MustCompile(`(?i)</?\s*transcript\b[^>]*>`)
	systemInstructionsRe = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades harshly, for certification-level tests.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient variant for practice and demo tests.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce      sync.Once
	loadErr       error
	evalTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// EvalData holds template data for rubric evaluation prompts.
type EvalData struct {
	QuestionText      string
	MaxPoints         int
	Language          string // human-readable language name for feedback
	KeyFactsToMention string
	KeyFactsToAvoid   string
	Transcript        string
}

// Load loads prompt templates from the given filesystem, once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		evalTemplates = make(map[PromptVariant]*template.Template)

		for v := range validVariants {
			name := "templates/eval_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
				return
			}
			tmpl, err := template.New("eval").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
				return
			}
			evalTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildEvalPrompt renders the rubric evaluation prompt for a transcript
// using the specified variant. The transcript is sanitized before it is
// interpolated.
func BuildEvalPrompt(variant PromptVariant, data EvalData) (string, error) {
	if evalTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := evalTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data.Transcript = SanitizeTranscript(data.Transcript)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeTranscript strips tag-like injection attempts and caps the
// transcript length before it enters a prompt.
func SanitizeTranscript(transcript string) string {
	transcript = transcriptTagRegex.ReplaceAllString(transcript, "")
	transcript = systemInstructionsRe.ReplaceAllString(transcript, "")
	transcript = strings.TrimSpace(transcript)

	if transcript == "" {
		return "[No speech recognized]"
	}

	if utf8.RuneCountInString(transcript) > 10000 {
		runes := []rune(transcript)
		runes = runes[:10000]
		transcript = string(runes) + "\n\n[Transcript truncated due to length]"
	}

	return transcript
}
