package store

import (
	"fmt"

	"github.com/pavelanni/speakexam/internal/model"
)

// ExportAllSubmissions builds export-ready results for every submission.
func (s *Store) ExportAllSubmissions() ([]model.SubmissionExport, error) {
	subs, err := s.ListSubmissions()
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	var results []model.SubmissionExport
	for _, sub := range subs {
		plan, err := s.GetTestPlan(sub.TestID)
		if err != nil {
			return nil, fmt.Errorf("load plan for test %d: %w", sub.TestID, err)
		}
		answers, err := s.GetAnswersForSubmission(sub.ID)
		if err != nil {
			return nil, fmt.Errorf("answers for submission %d: %w", sub.ID, err)
		}
		user, err := s.GetUserByID(sub.LearnerID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", sub.LearnerID, err)
		}

		var externalID, displayName string
		if user != nil {
			externalID = user.ExternalID
			displayName = user.DisplayName
		}

		var answerExports []model.AnswerExport
		for _, a := range answers {
			item, ok := plan.FindQuestion(a.QuestionID)
			if !ok {
				continue
			}
			evals, err := s.GetEvaluationsForAnswer(a.ID)
			if err != nil {
				return nil, fmt.Errorf("evaluations for answer %d: %w", a.ID, err)
			}
			answerExports = append(answerExports, model.AnswerExport{
				QuestionText:  item.Question.Text,
				MaxPoints:     item.Question.MaxPoints,
				Transcription: a.Transcription,
				Duration:      a.DurationSeconds,
				Score:         a.Score,
				NeedsReview:   a.NeedsReview,
				Evaluations:   evals,
			})
		}

		results = append(results, model.SubmissionExport{
			ExternalID:  externalID,
			DisplayName: displayName,
			Status:      sub.Status,
			TotalScore:  sub.TotalScore,
			MaxScore:    sub.MaxScore,
			IsPassed:    sub.IsPassed,
			SubmittedAt: sub.SubmittedAt,
			EvaluatedAt: sub.EvaluatedAt,
			Answers:     answerExports,
		})
	}

	return results, nil
}
