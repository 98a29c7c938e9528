package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "SubmissionReceived")
	if got != "Your answers were received and are being evaluated." {
		t.Errorf("T(SubmissionReceived) = %q", got)
	}

	got = T(ctx, "AnswerNeedsReview")
	if got != "This answer could not be graded automatically and will be reviewed by an instructor." {
		t.Errorf("T(AnswerNeedsReview) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "TestNotFound")
	if got != "Тест не найден." {
		t.Errorf("T(TestNotFound) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuestionsAnswered", 1)
	if got1 != "1 question answered." {
		t.Errorf("Tp(QuestionsAnswered, 1) = %q", got1)
	}

	got5 := Tp(ctx, "QuestionsAnswered", 5)
	if got5 != "5 questions answered." {
		t.Errorf("Tp(QuestionsAnswered, 5) = %q", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "SubmissionN", map[string]any{"ID": 42})
	if got != "Submission #42" {
		t.Errorf("Td(SubmissionN, ID=42) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}
