package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleLearner is a learner user role.
	UserRoleLearner UserRole = "learner"
	// UserRoleInstructor is an instructor user role.
	UserRoleInstructor UserRole = "instructor"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	ExternalID   string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// SubmissionStatus represents the status of a speaking test submission.
type SubmissionStatus string

const (
	StatusPending    SubmissionStatus = "pending"
	StatusEvaluating SubmissionStatus = "evaluating"
	StatusEvaluated  SubmissionStatus = "evaluated"
	StatusFailed     SubmissionStatus = "failed"
)

// Evaluator identifies who produced an evaluation.
type Evaluator string

const (
	EvaluatorAI    Evaluator = "ai"
	EvaluatorHuman Evaluator = "human"
)

// SpeakingTest represents a speaking assessment test.
// CourseID is nil for standalone tests.
type SpeakingTest struct {
	ID              int64  `json:"id"`
	CourseID        *int64 `json:"course_id,omitempty"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	PassScore       int    `json:"pass_score"`
	TotalScore      int    `json:"total_score"`
	Language        string `json:"language"`
	IsPublished     bool   `json:"is_published"`
	IsDemo          bool   `json:"is_demo"`
}

// Section is an ordered group of questions within a test. Sections may nest:
// ParentID references another section of the same test, nil for top level.
// SectionNumber is the only ordering authority among siblings.
type Section struct {
	ID                 int64  `json:"id"`
	TestID             int64  `json:"test_id"`
	ParentID           *int64 `json:"parent_id,omitempty"`
	SectionNumber      int    `json:"section_number"`
	Title              string `json:"title"`
	PreparationSeconds int    `json:"preparation_seconds"`
	SpeakingSeconds    int    `json:"speaking_seconds"`
	ImageURL           string `json:"image_url,omitempty"`

	// Resolved at load time, not stored columns.
	Children  []*Section `json:"children,omitempty"`
	Questions []Question `json:"questions,omitempty"`
}

// Question is a single spoken prompt. QuestionNumber is the only ordering
// authority within a section. Zero Preparation/SpeakingSeconds inherit the
// section defaults.
type Question struct {
	ID                 int64  `json:"id"`
	SectionID          int64  `json:"section_id"`
	QuestionNumber     int    `json:"question_number"`
	Text               string `json:"text"`
	PreparationSeconds int    `json:"preparation_seconds,omitempty"`
	SpeakingSeconds    int    `json:"speaking_seconds,omitempty"`
	KeyFactsToMention  string `json:"key_facts_to_mention,omitempty"`
	KeyFactsToAvoid    string `json:"key_facts_to_avoid,omitempty"`
	MediaURL           string `json:"media_url,omitempty"`
	MaxPoints          int    `json:"max_points"`
}

// Submission is one learner's attempt at a speaking test.
type Submission struct {
	ID          int64            `json:"id"`
	TestID      int64            `json:"test_id"`
	LearnerID   int64            `json:"learner_id"`
	Status      SubmissionStatus `json:"status"`
	TotalScore  float64          `json:"total_score"`
	MaxScore    float64          `json:"max_score"`
	IsPassed    bool             `json:"is_passed"`
	SubmittedAt time.Time        `json:"submitted_at"`
	EvaluatedAt *time.Time       `json:"evaluated_at,omitempty"`
}

// Answer is one recorded response to one question within a submission.
// Transcription and Score stay nil until the grading pipeline fills them.
// NeedsReview marks answers whose grading failed, as opposed to a genuine
// zero score.
type Answer struct {
	ID              int64    `json:"id"`
	SubmissionID    int64    `json:"submission_id"`
	QuestionID      int64    `json:"question_id"`
	AudioRef        string   `json:"audio_ref"`
	Transcription   *string  `json:"transcription,omitempty"`
	Score           *float64 `json:"score,omitempty"`
	Feedback        string   `json:"feedback,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
	NeedsReview     bool     `json:"needs_review"`
}

// Evaluation is one scored assessment of an answer. Evaluations are
// append-only: re-grading inserts a new row rather than overwriting.
type Evaluation struct {
	ID               int64     `json:"id"`
	AnswerID         int64     `json:"answer_id"`
	Evaluator        Evaluator `json:"evaluator"`
	Score            float64   `json:"score"`
	Fluency          float64   `json:"fluency"`
	Pronunciation    float64   `json:"pronunciation"`
	Vocabulary       float64   `json:"vocabulary"`
	Grammar          float64   `json:"grammar"`
	Relevance        float64   `json:"relevance"`
	Feedback         string    `json:"feedback"`
	KeyPointsCovered []string  `json:"key_points_covered,omitempty"`
	KeyPointsMissed  []string  `json:"key_points_missed,omitempty"`
	Strengths        []string  `json:"strengths,omitempty"`
	Improvements     []string  `json:"improvements,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	Language         string // default language for reports and messages
	PromptVariant    string // grading prompt variant (strict, standard, lenient)
	GradeConcurrency int    // parallel answers graded per submission
	CallTimeout      time.Duration
	SecureCookies    bool
}

// SubmissionView is the read model surfaced to the results/review UI.
type SubmissionView struct {
	ID          int64                `json:"id"`
	TestID      int64                `json:"test_id"`
	LearnerID   int64                `json:"learner_id"`
	Status      SubmissionStatus     `json:"status"`
	TotalScore  float64              `json:"total_score"`
	MaxScore    float64              `json:"max_score"`
	IsPassed    bool                 `json:"is_passed"`
	SubmittedAt time.Time            `json:"submitted_at"`
	EvaluatedAt *time.Time           `json:"evaluated_at,omitempty"`
	PerQuestion []QuestionViewResult `json:"per_question"`

	// Message is a localized status line filled in by the HTTP layer.
	Message string `json:"message,omitempty"`
}

// QuestionViewResult is the per-question slice of a SubmissionView.
// Answered false with nil Score means the learner skipped the question;
// NeedsReview true means grading failed and an instructor must step in.
type QuestionViewResult struct {
	QuestionID    int64    `json:"question_id"`
	QuestionText  string   `json:"question_text"`
	Answered      bool     `json:"answered"`
	Score         *float64 `json:"score,omitempty"`
	MaxPoints     int      `json:"max_points"`
	Feedback      string   `json:"feedback,omitempty"`
	NeedsReview   bool     `json:"needs_review"`
	Transcription *string  `json:"transcription,omitempty"`
	AudioRef      string   `json:"audio_ref,omitempty"`
}
