package session

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/speakexam/internal/model"
)

// twoSectionPlan builds the canonical scenario layout: section 1 with two
// questions, section 2 with one.
func twoSectionPlan(t *testing.T) *model.TestPlan {
	t.Helper()
	test := model.SpeakingTest{ID: 1, Title: "Travel talk", Language: "en", PassScore: 150}
	sections := []*model.Section{
		{ID: 2, TestID: 1, SectionNumber: 2, SpeakingSeconds: 60},
		{ID: 1, TestID: 1, SectionNumber: 1, SpeakingSeconds: 45},
	}
	questions := []model.Question{
		{ID: 3, SectionID: 2, QuestionNumber: 1, Text: "third", MaxPoints: 100},
		{ID: 1, SectionID: 1, QuestionNumber: 1, Text: "first", MaxPoints: 100},
		{ID: 2, SectionID: 1, QuestionNumber: 2, Text: "second", MaxPoints: 100},
	}
	plan, err := model.NewTestPlan(test, sections, questions)
	if err != nil {
		t.Fatalf("NewTestPlan: %v", err)
	}
	return plan
}

func newTestNavigator(t *testing.T, mic *fakeMic) (*Navigator, *Recorder) {
	t.Helper()
	rec := NewRecorder(mic, WithClock(newFakeClock()))
	nav, err := NewNavigator(twoSectionPlan(t), rec)
	if err != nil {
		t.Fatalf("NewNavigator: %v", err)
	}
	return nav, rec
}

func TestNavigatorTraversal(t *testing.T) {
	nav, _ := newTestNavigator(t, &fakeMic{})

	if got := nav.Current().Question.ID; got != 1 {
		t.Fatalf("expected to start at question 1, got %d", got)
	}

	item, err := nav.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if item.Question.ID != 2 {
		t.Errorf("expected question 2, got %d", item.Question.ID)
	}

	// Crossing the section boundary forward.
	item, err = nav.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if item.Question.ID != 3 {
		t.Errorf("expected question 3 in section 2, got %d", item.Question.ID)
	}
	if !nav.AtEnd() {
		t.Error("expected AtEnd at the last question")
	}

	// Next at the end is rejected; submit takes over.
	if _, err := nav.Next(); !errors.Is(err, ErrAtEnd) {
		t.Errorf("expected ErrAtEnd, got %v", err)
	}

	// Crossing back lands on the previous section's last question.
	item, err = nav.Previous()
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if item.Question.ID != 2 {
		t.Errorf("expected question 2 going back, got %d", item.Question.ID)
	}

	if _, err := nav.Previous(); err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if _, err := nav.Previous(); !errors.Is(err, ErrAtStart) {
		t.Errorf("expected ErrAtStart, got %v", err)
	}
}

func TestNavigatorForceStopsRecordingOnMove(t *testing.T) {
	mic := &fakeMic{streams: []*fakeStream{newFakeStream([]byte("mid"))}}
	nav, rec := newTestNavigator(t, mic)

	if err := rec.Arm(context.Background()); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := rec.Start(nav.Current()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := nav.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.State() == StateRecording {
		t.Fatal("navigation must force-stop the in-flight recording")
	}
	if _, ok := rec.Take(1); !ok {
		t.Error("force-stop must preserve the recording as a take")
	}
	if mic.handed[0].closeCount() == 0 {
		t.Error("stream must be released when navigating away")
	}
}

func TestNavigatorProgress(t *testing.T) {
	mic := &fakeMic{}
	nav, rec := newTestNavigator(t, mic)

	answered, total := nav.Progress()
	if answered != 0 || total != 3 {
		t.Fatalf("expected 0/3, got %d/%d", answered, total)
	}

	record := func(item model.PlanItem) {
		t.Helper()
		if err := rec.Arm(context.Background()); err != nil {
			t.Fatalf("Arm: %v", err)
		}
		if err := rec.Start(item); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := rec.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}

	// Answer questions 1 and 3, skip 2.
	record(nav.Current())
	if _, err := nav.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	last, err := nav.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	record(last)

	answered, total = nav.Progress()
	if answered != 2 || total != 3 {
		t.Errorf("expected progress 2/3, got %d/%d", answered, total)
	}
}

func TestNavigatorRejectsEmptyPlan(t *testing.T) {
	plan, err := model.NewTestPlan(model.SpeakingTest{ID: 1}, nil, nil)
	if err != nil {
		t.Fatalf("NewTestPlan: %v", err)
	}
	rec := NewRecorder(&fakeMic{})
	if _, err := NewNavigator(plan, rec); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}
