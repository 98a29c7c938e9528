package model

import "time"

// TestExport is the top-level JSON structure for result export.
type TestExport struct {
	ExamID        string            `json:"exam_id"`
	Subject       string            `json:"subject"`
	Date          string            `json:"date"`
	PromptVariant string            `json:"prompt_variant"`
	NumQuestions  int               `json:"num_questions"`
	Results       []SubmissionExport `json:"results"`
}

// SubmissionExport holds one learner's submission data for export.
type SubmissionExport struct {
	ExternalID  string           `json:"external_id"`
	DisplayName string           `json:"display_name"`
	Status      SubmissionStatus `json:"status"`
	TotalScore  float64          `json:"total_score"`
	MaxScore    float64          `json:"max_score"`
	IsPassed    bool             `json:"is_passed"`
	SubmittedAt time.Time        `json:"submitted_at"`
	EvaluatedAt *time.Time       `json:"evaluated_at,omitempty"`
	Answers     []AnswerExport   `json:"answers"`
}

// AnswerExport holds per-answer data for export, including every
// evaluation ever recorded for the answer.
type AnswerExport struct {
	QuestionText  string       `json:"question_text"`
	MaxPoints     int          `json:"max_points"`
	Transcription *string      `json:"transcription,omitempty"`
	Duration      float64      `json:"duration_seconds"`
	Score         *float64     `json:"score,omitempty"`
	NeedsReview   bool         `json:"needs_review"`
	Evaluations   []Evaluation `json:"evaluations"`
}
