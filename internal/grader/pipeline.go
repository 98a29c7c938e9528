// Package grader runs submitted answers through transcription and rubric
// evaluation, then aggregates per-answer points into a submission result.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appI18n "github.com/pavelanni/speakexam/internal/i18n"
	"github.com/pavelanni/speakexam/internal/llm"
	"github.com/pavelanni/speakexam/internal/model"
	"github.com/pavelanni/speakexam/internal/notify"
	"github.com/pavelanni/speakexam/internal/store"
	"github.com/pavelanni/speakexam/internal/stt"

	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 90 * time.Second
)

// Evaluator grades a single transcript. Satisfied by *llm.Client.
type Evaluator interface {
	EvaluateTranscript(ctx context.Context, in llm.EvalInput) (*llm.RubricResult, error)
}

// Pipeline grades submissions. Answers are processed concurrently up to
// Concurrency; the submission is finalized only after every answer has
// either a score or a needs-review flag.
type Pipeline struct {
	Store       *store.Store
	Transcriber stt.Transcriber
	Evaluator   Evaluator
	Notifier    notify.Notifier

	// Concurrency caps in-flight answers per submission. Zero means the
	// default of 4.
	Concurrency int

	// CallTimeout bounds each transcription and each evaluation call
	// separately. Zero means 90s.
	CallTimeout time.Duration
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return defaultConcurrency
}

func (p *Pipeline) callTimeout() time.Duration {
	if p.CallTimeout > 0 {
		return p.CallTimeout
	}
	return defaultCallTimeout
}

// Grade runs the full pipeline for one submission. A failure of an
// individual answer flags that answer for review and awards zero points;
// it never blocks the rest of the submission. Grade returns an error only
// when the submission itself cannot be loaded or stored.
func (p *Pipeline) Grade(ctx context.Context, submissionID int64) error {
	sub, err := p.Store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", submissionID, err)
	}
	plan, err := p.Store.GetTestPlan(sub.TestID)
	if err != nil {
		p.markFailed(submissionID)
		return fmt.Errorf("load test plan for submission %d: %w", submissionID, err)
	}
	answers, err := p.Store.GetAnswersForSubmission(submissionID)
	if err != nil {
		p.markFailed(submissionID)
		return fmt.Errorf("load answers for submission %d: %w", submissionID, err)
	}

	if err := p.Store.UpdateSubmissionStatus(submissionID, model.StatusEvaluating); err != nil {
		return fmt.Errorf("mark submission %d evaluating: %w", submissionID, err)
	}

	slog.Info("grading submission",
		"submission_id", submissionID,
		"test_id", sub.TestID,
		"answers", len(answers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())
	for _, a := range answers {
		g.Go(func() error {
			p.gradeAnswer(gctx, plan, a)
			return gctx.Err()
		})
	}
	// The barrier: no aggregation, and no evaluated status, until every
	// answer has settled.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("grading submission %d interrupted: %w", submissionID, err)
	}

	return p.finalize(ctx, sub, plan)
}

// gradeAnswer transcribes and evaluates one answer. All failure paths end
// in MarkAnswerNeedsReview with feedback localized to the test's language;
// the caller aggregates from the stored rows.
func (p *Pipeline) gradeAnswer(ctx context.Context, plan *model.TestPlan, a model.Answer) {
	lctx := appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(plan.Test.Language))

	item, ok := plan.FindQuestion(a.QuestionID)
	if !ok {
		slog.Warn("answer references unknown question", "answer_id", a.ID, "question_id", a.QuestionID)
		p.flagAnswer(a.ID, appI18n.T(lctx, "AnswerNeedsReview"))
		return
	}

	audio, _, err := p.Store.GetAudio(a.AudioRef)
	if err != nil {
		slog.Error("audio blob missing", "answer_id", a.ID, "audio_ref", a.AudioRef, "error", err)
		p.flagAnswer(a.ID, appI18n.T(lctx, "AnswerAudioMissing"))
		return
	}

	transcript, err := p.transcribe(ctx, plan.Test.Language, a, audio)
	if err != nil {
		slog.Error("transcription failed", "answer_id", a.ID, "error", err)
		p.flagAnswer(a.ID, appI18n.T(lctx, "AnswerTranscriptionFailed"))
		return
	}

	result, err := p.evaluate(ctx, plan.Test.Language, item, transcript)
	if err != nil {
		slog.Error("evaluation failed", "answer_id", a.ID, "error", err)
		p.flagAnswer(a.ID, appI18n.T(lctx, "AnswerEvaluationFailed"))
		return
	}

	points := result.Points(item.Question.MaxPoints)
	if _, err := p.Store.InsertEvaluation(evaluationFrom(a.ID, points, result)); err != nil {
		slog.Error("store evaluation", "answer_id", a.ID, "error", err)
		p.flagAnswer(a.ID, appI18n.T(lctx, "AnswerNeedsReview"))
		return
	}
	if err := p.Store.SetAnswerResult(a.ID, points, result.Feedback); err != nil {
		slog.Error("store answer result", "answer_id", a.ID, "error", err)
	}
	slog.Debug("answer graded", "answer_id", a.ID, "points", points, "overall", result.Overall)
}

func (p *Pipeline) transcribe(ctx context.Context, lang string, a model.Answer, audio []byte) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()

	res, err := p.Transcriber.Transcribe(tctx, stt.Request{
		Audio:    audio,
		Filename: fmt.Sprintf("answer_%d.webm", a.ID),
		Language: lang,
	})
	if err != nil {
		return "", err
	}
	if err := p.Store.SetAnswerTranscription(a.ID, res.Text, res.DurationSeconds); err != nil {
		return "", fmt.Errorf("store transcription: %w", err)
	}
	return res.Text, nil
}

func (p *Pipeline) evaluate(ctx context.Context, lang string, item model.PlanItem, transcript string) (*llm.RubricResult, error) {
	ectx, cancel := context.WithTimeout(ctx, p.callTimeout())
	defer cancel()

	return p.Evaluator.EvaluateTranscript(ectx, llm.EvalInput{
		QuestionText:      item.Question.Text,
		Transcript:        transcript,
		Language:          lang,
		KeyFactsToMention: item.Question.KeyFactsToMention,
		KeyFactsToAvoid:   item.Question.KeyFactsToAvoid,
		MaxPoints:         item.Question.MaxPoints,
	})
}

// finalize is the aggregation step behind the barrier. Totals are computed
// from the stored answer rows so that Regrade and Grade share one source
// of truth.
func (p *Pipeline) finalize(ctx context.Context, sub model.Submission, plan *model.TestPlan) error {
	answers, err := p.Store.GetAnswersForSubmission(sub.ID)
	if err != nil {
		return fmt.Errorf("reload answers for submission %d: %w", sub.ID, err)
	}

	var total float64
	needsReview := false
	for _, a := range answers {
		if a.Score != nil {
			total += *a.Score
		}
		if a.NeedsReview {
			needsReview = true
		}
	}
	// Skipped and failed questions still count their full weight in the
	// denominator; credit is simply not awarded.
	maxScore := plan.MaxScore()
	isPassed := total >= float64(plan.Test.PassScore)

	if err := p.Store.FinalizeSubmission(sub.ID, total, maxScore, isPassed); err != nil {
		return fmt.Errorf("finalize submission %d: %w", sub.ID, err)
	}
	slog.Info("submission evaluated",
		"submission_id", sub.ID,
		"total_score", total,
		"max_score", maxScore,
		"is_passed", isPassed,
		"needs_review", needsReview)

	if p.Notifier != nil {
		ev := notify.SubmissionEvent{
			SubmissionID: sub.ID,
			TestID:       sub.TestID,
			LearnerID:    sub.LearnerID,
			TotalScore:   total,
			MaxScore:     maxScore,
			IsPassed:     isPassed,
			NeedsReview:  needsReview,
		}
		// Notification must not delay or fail the grading result.
		go p.Notifier.SubmissionEvaluated(context.WithoutCancel(ctx), ev)
	}
	return nil
}

// Finalize recomputes a submission's totals from its stored answers.
// Called after a human review changes an answer's score.
func (p *Pipeline) Finalize(ctx context.Context, submissionID int64) error {
	sub, err := p.Store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", submissionID, err)
	}
	plan, err := p.Store.GetTestPlan(sub.TestID)
	if err != nil {
		return fmt.Errorf("load test plan: %w", err)
	}
	return p.finalize(ctx, sub, plan)
}

// Regrade reruns transcription and evaluation for a single answer, then
// recomputes the submission totals. Used after a needs-review fix or a
// prompt change; previous evaluations stay on record.
func (p *Pipeline) Regrade(ctx context.Context, answerID int64) error {
	a, err := p.Store.GetAnswer(answerID)
	if err != nil {
		return fmt.Errorf("load answer %d: %w", answerID, err)
	}
	sub, err := p.Store.GetSubmission(a.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission %d: %w", a.SubmissionID, err)
	}
	plan, err := p.Store.GetTestPlan(sub.TestID)
	if err != nil {
		return fmt.Errorf("load test plan: %w", err)
	}

	p.gradeAnswer(ctx, plan, a)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.finalize(ctx, sub, plan)
}

func (p *Pipeline) flagAnswer(answerID int64, feedback string) {
	if err := p.Store.MarkAnswerNeedsReview(answerID, feedback); err != nil {
		slog.Error("flag answer for review", "answer_id", answerID, "error", err)
	}
}

func (p *Pipeline) markFailed(submissionID int64) {
	if err := p.Store.UpdateSubmissionStatus(submissionID, model.StatusFailed); err != nil {
		slog.Error("mark submission failed", "submission_id", submissionID, "error", err)
	}
}

func evaluationFrom(answerID int64, points float64, r *llm.RubricResult) model.Evaluation {
	return model.Evaluation{
		AnswerID:         answerID,
		Evaluator:        model.EvaluatorAI,
		Score:            points,
		Fluency:          r.Fluency,
		Pronunciation:    r.Pronunciation,
		Vocabulary:       r.Vocabulary,
		Grammar:          r.Grammar,
		Relevance:        r.Relevance,
		Feedback:         r.Feedback,
		KeyPointsCovered: r.KeyPointsCovered,
		KeyPointsMissed:  r.KeyPointsMissed,
		Strengths:        r.Strengths,
		Improvements:     r.Improvements,
	}
}
