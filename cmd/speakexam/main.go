package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/speakexam/internal/grader"
	"github.com/pavelanni/speakexam/internal/handler"
	appI18n "github.com/pavelanni/speakexam/internal/i18n"
	"github.com/pavelanni/speakexam/internal/llm"
	"github.com/pavelanni/speakexam/internal/llm/prompts"
	"github.com/pavelanni/speakexam/internal/model"
	"github.com/pavelanni/speakexam/internal/notify"
	"github.com/pavelanni/speakexam/internal/store"
	"github.com/pavelanni/speakexam/internal/stt"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "speakexam",
		Short: "Speaking assessment server with automatic grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `speakexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "speakexam.db", "SQLite database path")
	f.StringSliceP("tests", "t", nil, "Paths to test definition JSON files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL for evaluation")
	f.String("llm-key", "ollama", "API key for the evaluation model")
	f.String("llm-model", "llama3.2", "Evaluation model name")
	f.String("stt-url", "", "OpenAI-compatible API base URL for transcription (defaults to llm-url)")
	f.String("stt-key", "", "API key for the transcription model (defaults to llm-key)")
	f.String("stt-model", "whisper-1", "Transcription model name")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.Int("grade-concurrency", 4, "Answers graded in parallel per submission")
	f.Duration("call-timeout", 90*time.Second, "Timeout for each transcription or evaluation call")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.String("admin-password", "", "Initial admin password (or set SPEAKEXAM_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submission results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "speakexam.db", "SQLite database path")
	f.String("exam-id", "", "Exam identifier for output (required)")
	f.String("subject", "", "Subject name for output (required)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (required)")
	f.String("prompt-variant", "standard", "Prompt variant included in export metadata")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SPEAKEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("speakexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/speakexam")
	v.AddConfigPath("/etc/speakexam")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadTests(db, v.GetStringSlice("tests")); err != nil {
		return fmt.Errorf("load tests: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	sttURL := v.GetString("stt-url")
	if sttURL == "" {
		sttURL = v.GetString("llm-url")
	}
	sttKey := v.GetString("stt-key")
	if sttKey == "" {
		sttKey = v.GetString("llm-key")
	}
	transcriber := stt.NewWhisper(sttURL, sttKey, v.GetString("stt-model"))

	pipeline := &grader.Pipeline{
		Store:       db,
		Transcriber: transcriber,
		Evaluator:   llmClient,
		Notifier:    notify.LogNotifier{},
		Concurrency: v.GetInt("grade-concurrency"),
		CallTimeout: v.GetDuration("call-timeout"),
	}

	appCfg := model.AppConfig{
		Language:         lang,
		PromptVariant:    promptVariant,
		GradeConcurrency: v.GetInt("grade-concurrency"),
		CallTimeout:      v.GetDuration("call-timeout"),
		SecureCookies:    v.GetBool("secure-cookies"),
	}

	h, err := handler.New(db, pipeline, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"llm_model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"stt_model", v.GetString("stt-model"),
		"stt_url", sttURL,
		"lang", lang,
		"grade_concurrency", appCfg.GradeConcurrency,
		"call_timeout", appCfg.CallTimeout,
		"prompt_variant", promptVariant,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ExportAllSubmissions()
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}

	numQuestions := 0
	if len(results) > 0 {
		numQuestions = len(results[0].Answers)
	}

	export := model.TestExport{
		ExamID:        v.GetString("exam-id"),
		Subject:       v.GetString("subject"),
		Date:          v.GetString("date"),
		PromptVariant: v.GetString("prompt-variant"),
		NumQuestions:  numQuestions,
		Results:       results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadTests imports test definition files. A file is imported once; if it
// changes afterwards it is skipped so existing submissions keep matching
// their questions.
func loadTests(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("test file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("test file changed since last import, skipping to keep existing submissions consistent",
				"path", path)
			continue
		}

		var ti model.TestImport
		if err := json.Unmarshal(data, &ti); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		testID, err := db.InsertTest(model.SpeakingTest{
			Title:           ti.Title,
			DurationMinutes: ti.DurationMinutes,
			PassScore:       ti.PassScore,
			TotalScore:      ti.TotalScore,
			Language:        ti.Language,
			IsPublished:     ti.IsPublished,
			IsDemo:          ti.IsDemo,
		})
		if err != nil {
			return fmt.Errorf("insert test from %s: %w", path, err)
		}
		for _, si := range ti.Sections {
			if err := insertSectionTree(db, testID, nil, si); err != nil {
				return fmt.Errorf("insert sections from %s: %w", path, err)
			}
		}

		// Reject malformed trees at import time, not at first attempt.
		if _, err := db.GetTestPlan(testID); err != nil {
			return fmt.Errorf("validate test from %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported test", "path", path, "test_id", testID, "title", ti.Title)
	}
	return nil
}

func insertSectionTree(db *store.Store, testID int64, parentID *int64, si model.SectionImport) error {
	secID, err := db.InsertSection(model.Section{
		TestID:             testID,
		ParentID:           parentID,
		SectionNumber:      si.SectionNumber,
		Title:              si.Title,
		PreparationSeconds: si.PreparationSeconds,
		SpeakingSeconds:    si.SpeakingSeconds,
		ImageURL:           si.ImageURL,
	})
	if err != nil {
		return err
	}
	for _, qi := range si.Questions {
		maxPoints := qi.MaxPoints
		if maxPoints == 0 {
			maxPoints = 100
		}
		if _, err := db.InsertQuestion(model.Question{
			SectionID:          secID,
			QuestionNumber:     qi.QuestionNumber,
			Text:               qi.Text,
			PreparationSeconds: qi.PreparationSeconds,
			SpeakingSeconds:    qi.SpeakingSeconds,
			KeyFactsToMention:  qi.KeyFactsToMention,
			KeyFactsToAvoid:    qi.KeyFactsToAvoid,
			MediaURL:           qi.MediaURL,
			MaxPoints:          maxPoints,
		}); err != nil {
			return err
		}
	}
	for _, child := range si.Sections {
		if err := insertSectionTree(db, testID, &secID, child); err != nil {
			return err
		}
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or SPEAKEXAM_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
