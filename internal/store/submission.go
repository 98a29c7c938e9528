package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pavelanni/speakexam/internal/model"
)

// CreateSubmission creates a pending submission for a learner's attempt.
func (s *Store) CreateSubmission(testID, learnerID int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO submissions (test_id, learner_id, status, submitted_at) VALUES (?, ?, 'pending', ?)`,
		testID, learnerID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	var sub model.Submission
	err := s.db.QueryRow(
		`SELECT id, test_id, learner_id, status, total_score, max_score, is_passed, submitted_at, evaluated_at
		 FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.TestID, &sub.LearnerID, &sub.Status, &sub.TotalScore, &sub.MaxScore, &sub.IsPassed, &sub.SubmittedAt, &sub.EvaluatedAt)
	return sub, err
}

// UpdateSubmissionStatus updates the submission status.
func (s *Store) UpdateSubmissionStatus(id int64, status model.SubmissionStatus) error {
	_, err := s.db.Exec(`UPDATE submissions SET status = ? WHERE id = ?`, status, id)
	return err
}

// FinalizeSubmission records the aggregated result and moves the
// submission to its terminal evaluated state in one statement.
func (s *Store) FinalizeSubmission(id int64, totalScore, maxScore float64, isPassed bool) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET status = ?, total_score = ?, max_score = ?, is_passed = ?, evaluated_at = ?
		 WHERE id = ?`,
		model.StatusEvaluated, totalScore, maxScore, isPassed, time.Now(), id,
	)
	return err
}

// ListSubmissionsForTest returns all submissions for a test, newest first.
func (s *Store) ListSubmissionsForTest(testID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, test_id, learner_id, status, total_score, max_score, is_passed, submitted_at, evaluated_at
		 FROM submissions WHERE test_id = ? ORDER BY id DESC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// ListSubmissions returns all submissions, newest first.
func (s *Store) ListSubmissions() ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, test_id, learner_id, status, total_score, max_score, is_passed, submitted_at, evaluated_at
		 FROM submissions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func scanSubmissions(rows *sql.Rows) ([]model.Submission, error) {
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(&sub.ID, &sub.TestID, &sub.LearnerID, &sub.Status, &sub.TotalScore, &sub.MaxScore, &sub.IsPassed, &sub.SubmittedAt, &sub.EvaluatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// InsertAnswer stores a recorded answer.
func (s *Store) InsertAnswer(a model.Answer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO answers (submission_id, question_id, audio_ref, duration_seconds, feedback)
		 VALUES (?, ?, ?, ?, ?)`,
		a.SubmissionID, a.QuestionID, a.AudioRef, a.DurationSeconds, a.Feedback,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAnswer returns an answer by ID.
func (s *Store) GetAnswer(id int64) (model.Answer, error) {
	var a model.Answer
	err := s.db.QueryRow(
		`SELECT id, submission_id, question_id, audio_ref, transcription, score, feedback, duration_seconds, needs_review
		 FROM answers WHERE id = ?`, id,
	).Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.AudioRef, &a.Transcription, &a.Score, &a.Feedback, &a.DurationSeconds, &a.NeedsReview)
	return a, err
}

// GetAnswersForSubmission returns all answers of a submission.
func (s *Store) GetAnswersForSubmission(submissionID int64) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_id, audio_ref, transcription, score, feedback, duration_seconds, needs_review
		 FROM answers WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.AudioRef, &a.Transcription, &a.Score, &a.Feedback, &a.DurationSeconds, &a.NeedsReview); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SetAnswerTranscription records the transcribed text and measured
// duration for an answer.
func (s *Store) SetAnswerTranscription(id int64, text string, durationSeconds float64) error {
	_, err := s.db.Exec(
		`UPDATE answers SET transcription = ?, duration_seconds = ? WHERE id = ?`,
		text, durationSeconds, id,
	)
	return err
}

// SetAnswerResult records the awarded score and feedback, clearing any
// needs-review flag.
func (s *Store) SetAnswerResult(id int64, score float64, feedback string) error {
	_, err := s.db.Exec(
		`UPDATE answers SET score = ?, feedback = ?, needs_review = 0 WHERE id = ?`,
		score, feedback, id,
	)
	return err
}

// MarkAnswerNeedsReview flags an answer whose grading failed. The score
// is set to zero so aggregation stays well-defined, but the flag keeps it
// distinguishable from a genuine zero.
func (s *Store) MarkAnswerNeedsReview(id int64, feedback string) error {
	_, err := s.db.Exec(
		`UPDATE answers SET score = 0, feedback = ?, needs_review = 1 WHERE id = ?`,
		feedback, id,
	)
	return err
}

// InsertEvaluation appends an evaluation record. Evaluations are never
// updated or deleted; re-grading adds rows.
func (s *Store) InsertEvaluation(e model.Evaluation) (int64, error) {
	covered, _ := json.Marshal(emptyIfNil(e.KeyPointsCovered))
	missed, _ := json.Marshal(emptyIfNil(e.KeyPointsMissed))
	strengths, _ := json.Marshal(emptyIfNil(e.Strengths))
	improvements, _ := json.Marshal(emptyIfNil(e.Improvements))

	res, err := s.db.Exec(
		`INSERT INTO evaluations (answer_id, evaluator, score, fluency, pronunciation, vocabulary, grammar, relevance,
		                          feedback, key_points_covered, key_points_missed, strengths, improvements, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AnswerID, e.Evaluator, e.Score, e.Fluency, e.Pronunciation, e.Vocabulary, e.Grammar, e.Relevance,
		e.Feedback, string(covered), string(missed), string(strengths), string(improvements), time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// GetEvaluationsForAnswer returns all evaluations of an answer, newest
// first.
func (s *Store) GetEvaluationsForAnswer(answerID int64) ([]model.Evaluation, error) {
	rows, err := s.db.Query(
		`SELECT id, answer_id, evaluator, score, fluency, pronunciation, vocabulary, grammar, relevance,
		        feedback, key_points_covered, key_points_missed, strengths, improvements, created_at
		 FROM evaluations WHERE answer_id = ? ORDER BY id DESC`, answerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []model.Evaluation
	for rows.Next() {
		var e model.Evaluation
		var covered, missed, strengths, improvements string
		if err := rows.Scan(&e.ID, &e.AnswerID, &e.Evaluator, &e.Score, &e.Fluency, &e.Pronunciation, &e.Vocabulary, &e.Grammar, &e.Relevance,
			&e.Feedback, &covered, &missed, &strengths, &improvements, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(covered), &e.KeyPointsCovered)
		_ = json.Unmarshal([]byte(missed), &e.KeyPointsMissed)
		_ = json.Unmarshal([]byte(strengths), &e.Strengths)
		_ = json.Unmarshal([]byte(improvements), &e.Improvements)
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// GetSubmissionView assembles the read model for the results/review UI:
// one row per question in traversal order, answered or not.
func (s *Store) GetSubmissionView(submissionID int64) (*model.SubmissionView, error) {
	sub, err := s.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.GetTestPlan(sub.TestID)
	if err != nil {
		return nil, err
	}
	answers, err := s.GetAnswersForSubmission(submissionID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[int64]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	view := &model.SubmissionView{
		ID:          sub.ID,
		TestID:      sub.TestID,
		LearnerID:   sub.LearnerID,
		Status:      sub.Status,
		TotalScore:  sub.TotalScore,
		MaxScore:    sub.MaxScore,
		IsPassed:    sub.IsPassed,
		SubmittedAt: sub.SubmittedAt,
		EvaluatedAt: sub.EvaluatedAt,
	}
	for _, item := range plan.Flatten() {
		qr := model.QuestionViewResult{
			QuestionID:   item.Question.ID,
			QuestionText: item.Question.Text,
			MaxPoints:    item.Question.MaxPoints,
		}
		if a, ok := byQuestion[item.Question.ID]; ok {
			qr.Answered = true
			qr.Score = a.Score
			qr.Feedback = a.Feedback
			qr.NeedsReview = a.NeedsReview
			qr.Transcription = a.Transcription
			qr.AudioRef = a.AudioRef
		}
		view.PerQuestion = append(view.PerQuestion, qr)
	}
	return view, nil
}
