// Package notify informs collaborators when a submission reaches its
// terminal graded state. Delivery is fire-and-forget and never sits on
// the grading pipeline's critical path.
package notify

import (
	"context"
	"log/slog"
)

// SubmissionEvent describes a submission that finished grading.
type SubmissionEvent struct {
	SubmissionID int64
	TestID       int64
	LearnerID    int64
	TotalScore   float64
	MaxScore     float64
	IsPassed     bool
	NeedsReview  bool // at least one answer requires manual review
}

// Notifier receives submission-evaluated events.
type Notifier interface {
	SubmissionEvaluated(ctx context.Context, ev SubmissionEvent)
}

// LogNotifier writes events to the structured log. It stands in for a
// real delivery channel (mail, push) behind the same interface.
type LogNotifier struct{}

func (LogNotifier) SubmissionEvaluated(_ context.Context, ev SubmissionEvent) {
	slog.Info("submission evaluated",
		"submission_id", ev.SubmissionID,
		"test_id", ev.TestID,
		"learner_id", ev.LearnerID,
		"total_score", ev.TotalScore,
		"max_score", ev.MaxScore,
		"passed", ev.IsPassed,
		"needs_review", ev.NeedsReview,
	)
}

// Discard drops all events, for tests.
type Discard struct{}

func (Discard) SubmissionEvaluated(context.Context, SubmissionEvent) {}
