// Package handler exposes the JSON API: authentication, test discovery,
// multipart submission intake and the results/review surface.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/speakexam/internal/i18n"
	"github.com/pavelanni/speakexam/internal/model"
	"github.com/pavelanni/speakexam/internal/store"
)

// maxSubmissionBytes caps one multipart submission upload.
const maxSubmissionBytes = 128 << 20

// Grader is the grading pipeline surface the handlers drive.
// Satisfied by *grader.Pipeline.
type Grader interface {
	Grade(ctx context.Context, submissionID int64) error
	Regrade(ctx context.Context, answerID int64) error
	Finalize(ctx context.Context, submissionID int64) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	grader Grader
	config model.AppConfig
}

// New creates a new Handler.
func New(s *store.Store, g Grader, cfg model.AppConfig) (*Handler, error) {
	return &Handler{store: s, grader: g, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/api/logout", h.handleLogout)
		r.Get("/api/tests", h.handleListTests)
		r.Get("/api/tests/{testID}", h.handleGetTest)
		r.Post("/api/tests/{testID}/submissions", h.handleSubmit)
		r.Get("/api/submissions/{submissionID}", h.handleSubmissionView)
		r.Get("/api/submissions/{submissionID}/answers/{answerID}/audio", h.handleAudio)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleInstructor, model.UserRoleAdmin))
			r.Get("/api/submissions", h.handleListSubmissions)
			r.Post("/api/submissions/{submissionID}/regrade", h.handleRegradeSubmission)
			r.Post("/api/submissions/{submissionID}/answers/{answerID}/regrade", h.handleRegradeAnswer)
			r.Post("/api/submissions/{submissionID}/answers/{answerID}/review", h.handleHumanReview)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/api/users", h.handleListUsers)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type apiError struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListPublishedTests()
	if err != nil {
		slog.Error("list tests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

// testDetail is the learner-facing view of a test: the ordered question
// walk with effective timings, without grading internals like key facts.
type testDetail struct {
	Test      model.SpeakingTest `json:"test"`
	Questions []questionDetail   `json:"questions"`
}

type questionDetail struct {
	QuestionID         int64  `json:"question_id"`
	SectionTitle       string `json:"section_title"`
	Text               string `json:"text"`
	PreparationSeconds int    `json:"preparation_seconds"`
	SpeakingSeconds    int    `json:"speaking_seconds"`
	MaxPoints          int    `json:"max_points"`
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	testID, err := urlID(r, "testID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid test ID")
		return
	}
	user := model.UserFromContext(r.Context())

	ok, err := h.store.CanAttempt(user.ID, testID)
	if err != nil {
		slog.Error("access check", "test_id", testID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok && user.Role == model.UserRoleLearner {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "TestNotAvailable"))
		return
	}

	plan, err := h.store.GetTestPlan(testID)
	if err != nil {
		if errors.Is(err, model.ErrMalformedTree) {
			writeError(w, http.StatusUnprocessableEntity, "malformed test")
			return
		}
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "TestNotFound"))
		return
	}

	detail := testDetail{Test: plan.Test}
	for _, item := range plan.Flatten() {
		detail.Questions = append(detail.Questions, questionDetail{
			QuestionID:         item.Question.ID,
			SectionTitle:       item.Section.Title,
			Text:               item.Question.Text,
			PreparationSeconds: item.PreparationSeconds,
			SpeakingSeconds:    item.SpeakingSeconds,
			MaxPoints:          item.Question.MaxPoints,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

// manifestEntry mirrors the client's submission manifest: answers in
// traversal order, positionally matched to the uploaded audio parts.
type manifestEntry struct {
	QuestionID      int64   `json:"question_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type submitResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	testID, err := urlID(r, "testID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid test ID")
		return
	}
	user := model.UserFromContext(r.Context())

	ok, err := h.store.CanAttempt(user.ID, testID)
	if err != nil {
		slog.Error("access check", "test_id", testID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "TestNotAvailable"))
		return
	}

	plan, err := h.store.GetTestPlan(testID)
	if err != nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "TestNotFound"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	var manifest []manifestEntry
	if err := json.Unmarshal([]byte(r.FormValue("manifest")), &manifest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid manifest")
		return
	}
	files := r.MultipartForm.File["audio"]
	if len(manifest) == 0 || len(files) != len(manifest) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("manifest lists %d answers but %d audio parts were uploaded", len(manifest), len(files)))
		return
	}
	for _, m := range manifest {
		if _, found := plan.FindQuestion(m.QuestionID); !found {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("question %d does not belong to this test", m.QuestionID))
			return
		}
	}

	// Read and validate every part before anything is written, so a bad
	// upload never leaves a half-stored submission behind.
	blobs := make([][]byte, len(files))
	for i := range files {
		f, err := files[i].Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable audio part")
			return
		}
		audio, err := io.ReadAll(f)
		f.Close()
		if err != nil || len(audio) == 0 {
			writeError(w, http.StatusBadRequest, "empty audio part")
			return
		}
		blobs[i] = audio
	}

	subID, err := h.store.CreateSubmission(testID, user.ID)
	if err != nil {
		slog.Error("create submission", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	for i, m := range manifest {
		ref := store.NewAudioRef()
		contentType := files[i].Header.Get("Content-Type")
		if err := h.store.PutAudio(ref, contentType, blobs[i]); err != nil {
			slog.Error("store audio", "submission_id", subID, "error", err)
			h.failSubmission(w, subID)
			return
		}
		if _, err := h.store.InsertAnswer(model.Answer{
			SubmissionID:    subID,
			QuestionID:      m.QuestionID,
			AudioRef:        ref,
			DurationSeconds: m.DurationSeconds,
		}); err != nil {
			slog.Error("store answer", "submission_id", subID, "error", err)
			h.failSubmission(w, subID)
			return
		}
	}

	slog.Info("submission received",
		"submission_id", subID,
		"test_id", testID,
		"learner_id", user.ID,
		"answers", len(manifest))

	// Grading runs detached from the request lifetime.
	go func() {
		if err := h.grader.Grade(context.WithoutCancel(r.Context()), subID); err != nil {
			slog.Error("background grading failed", "submission_id", subID, "error", err)
		}
	}()

	receipt := fmt.Sprintf("%s: %s %s",
		appI18n.Td(r.Context(), "SubmissionN", map[string]any{"ID": subID}),
		appI18n.T(r.Context(), "SubmissionReceived"),
		appI18n.Tp(r.Context(), "QuestionsAnswered", len(manifest)))
	writeJSON(w, http.StatusCreated, submitResponse{
		SubmissionID: subID,
		Status:       string(model.StatusPending),
		Message:      receipt,
	})
}

// failSubmission marks a half-written submission failed so it never sits
// in pending waiting for a grader that will not come.
func (h *Handler) failSubmission(w http.ResponseWriter, submissionID int64) {
	if err := h.store.UpdateSubmissionStatus(submissionID, model.StatusFailed); err != nil {
		slog.Error("mark submission failed", "submission_id", submissionID, "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) handleSubmissionView(w http.ResponseWriter, r *http.Request) {
	submissionID, err := urlID(r, "submissionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}
	view, ok := h.authorizedView(w, r, submissionID)
	if !ok {
		return
	}
	h.localizeView(r, view)
	writeJSON(w, http.StatusOK, view)
}

// localizeView fills in the learner-facing status line and the feedback
// for skipped questions.
func (h *Handler) localizeView(r *http.Request, view *model.SubmissionView) {
	ctx := r.Context()
	switch view.Status {
	case model.StatusPending:
		view.Message = appI18n.T(ctx, "SubmissionPending")
	case model.StatusEvaluating:
		view.Message = appI18n.T(ctx, "SubmissionEvaluating")
	case model.StatusFailed:
		view.Message = appI18n.T(ctx, "SubmissionFailed")
	case model.StatusEvaluated:
		if view.IsPassed {
			view.Message = appI18n.T(ctx, "SubmissionPassed")
		} else {
			view.Message = appI18n.T(ctx, "SubmissionNotPassed")
		}
	}
	for i := range view.PerQuestion {
		q := &view.PerQuestion[i]
		if !q.Answered && q.Feedback == "" {
			q.Feedback = appI18n.T(ctx, "QuestionSkipped")
		}
	}
}

// authorizedView loads a submission view and enforces that learners only
// see their own work. Writes the error response itself on failure.
func (h *Handler) authorizedView(w http.ResponseWriter, r *http.Request, submissionID int64) (*model.SubmissionView, bool) {
	user := model.UserFromContext(r.Context())

	view, err := h.store.GetSubmissionView(submissionID)
	if err != nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "SubmissionNotFound"))
		return nil, false
	}
	if user.Role == model.UserRoleLearner && view.LearnerID != user.ID {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "SubmissionNotFound"))
		return nil, false
	}
	return view, true
}

// submissionAnswer resolves the {submissionID}/{answerID} pair and checks
// the answer belongs to that submission. Writes the error response itself.
func (h *Handler) submissionAnswer(w http.ResponseWriter, r *http.Request) (model.Answer, bool) {
	submissionID, err := urlID(r, "submissionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission ID")
		return model.Answer{}, false
	}
	answerID, err := urlID(r, "answerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid answer ID")
		return model.Answer{}, false
	}
	answer, err := h.store.GetAnswer(answerID)
	if err != nil || answer.SubmissionID != submissionID {
		writeError(w, http.StatusNotFound, "answer not found")
		return model.Answer{}, false
	}
	return answer, true
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	answer, ok := h.submissionAnswer(w, r)
	if !ok {
		return
	}
	if _, ok := h.authorizedView(w, r, answer.SubmissionID); !ok {
		return
	}

	audio, contentType, err := h.store.GetAudio(answer.AudioRef)
	if err != nil {
		writeError(w, http.StatusNotFound, "audio not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	if _, err := w.Write(audio); err != nil {
		slog.Error("write audio response", "error", err)
	}
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	var (
		subs []model.Submission
		err  error
	)
	if testParam := r.URL.Query().Get("test_id"); testParam != "" {
		testID, perr := strconv.ParseInt(testParam, 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid test_id")
			return
		}
		subs, err = h.store.ListSubmissionsForTest(testID)
	} else {
		subs, err = h.store.ListSubmissions()
	}
	if err != nil {
		slog.Error("list submissions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// userSummary is the admin list view of a user; password hashes never
// leave the store layer.
type userSummary struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	ExternalID  string         `json:"external_id,omitempty"`
	Role        model.UserRole `json:"role"`
	Active      bool           `json:"active"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			ExternalID:  u.ExternalID,
			Role:        u.Role,
			Active:      u.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRegradeSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, err := urlID(r, "submissionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}
	if _, err := h.store.GetSubmission(submissionID); err != nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "SubmissionNotFound"))
		return
	}

	go func() {
		if err := h.grader.Grade(context.WithoutCancel(r.Context()), submissionID); err != nil {
			slog.Error("regrade submission failed", "submission_id", submissionID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(model.StatusEvaluating)})
}

func (h *Handler) handleRegradeAnswer(w http.ResponseWriter, r *http.Request) {
	answer, ok := h.submissionAnswer(w, r)
	if !ok {
		return
	}

	if err := h.grader.Regrade(r.Context(), answer.ID); err != nil {
		slog.Error("regrade answer failed", "answer_id", answer.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "regrade failed")
		return
	}
	updated, err := h.store.GetAnswer(answer.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type reviewRequest struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// handleHumanReview records an instructor's score for an answer. The AI
// evaluations stay on record; the human one is appended and the answer's
// effective score and the submission totals are updated.
func (h *Handler) handleHumanReview(w http.ResponseWriter, r *http.Request) {
	answer, ok := h.submissionAnswer(w, r)
	if !ok {
		return
	}
	answerID := answer.ID

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Score < 0 {
		writeError(w, http.StatusBadRequest, "score must not be negative")
		return
	}

	if _, err := h.store.InsertEvaluation(model.Evaluation{
		AnswerID:  answerID,
		Evaluator: model.EvaluatorHuman,
		Score:     req.Score,
		Feedback:  req.Feedback,
	}); err != nil {
		slog.Error("store human evaluation", "answer_id", answerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.SetAnswerResult(answerID, req.Score, req.Feedback); err != nil {
		slog.Error("apply human score", "answer_id", answerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.grader.Finalize(r.Context(), answer.SubmissionID); err != nil {
		slog.Error("refresh submission totals", "submission_id", answer.SubmissionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	view, err := h.store.GetSubmissionView(answer.SubmissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.localizeView(r, view)
	writeJSON(w, http.StatusOK, view)
}
