package store

import (
	"database/sql"
	"fmt"

	"github.com/pavelanni/speakexam/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'learner',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS speaking_tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER,
		title TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		pass_score INTEGER NOT NULL DEFAULT 0,
		total_score INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT 'en',
		is_published INTEGER NOT NULL DEFAULT 0,
		is_demo INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL,
		parent_id INTEGER,
		section_number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		preparation_seconds INTEGER NOT NULL DEFAULT 0,
		speaking_seconds INTEGER NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (test_id) REFERENCES speaking_tests(id),
		FOREIGN KEY (parent_id) REFERENCES sections(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		section_id INTEGER NOT NULL,
		question_number INTEGER NOT NULL,
		text TEXT NOT NULL,
		preparation_seconds INTEGER NOT NULL DEFAULT 0,
		speaking_seconds INTEGER NOT NULL DEFAULT 0,
		key_facts_to_mention TEXT NOT NULL DEFAULT '',
		key_facts_to_avoid TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		max_points INTEGER NOT NULL DEFAULT 100,
		FOREIGN KEY (section_id) REFERENCES sections(id)
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		learner_id INTEGER NOT NULL,
		test_id INTEGER NOT NULL,
		UNIQUE (learner_id, test_id),
		FOREIGN KEY (learner_id) REFERENCES users(id),
		FOREIGN KEY (test_id) REFERENCES speaking_tests(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id INTEGER NOT NULL,
		learner_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_score REAL NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		is_passed INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		evaluated_at DATETIME,
		FOREIGN KEY (test_id) REFERENCES speaking_tests(id),
		FOREIGN KEY (learner_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		audio_ref TEXT NOT NULL,
		transcription TEXT,
		score REAL,
		feedback TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		needs_review INTEGER NOT NULL DEFAULT 0,
		UNIQUE (submission_id, question_id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		answer_id INTEGER NOT NULL,
		evaluator TEXT NOT NULL DEFAULT 'ai',
		score REAL NOT NULL DEFAULT 0,
		fluency REAL NOT NULL DEFAULT 0,
		pronunciation REAL NOT NULL DEFAULT 0,
		vocabulary REAL NOT NULL DEFAULT 0,
		grammar REAL NOT NULL DEFAULT 0,
		relevance REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		key_points_covered TEXT NOT NULL DEFAULT '[]',
		key_points_missed TEXT NOT NULL DEFAULT '[]',
		strengths TEXT NOT NULL DEFAULT '[]',
		improvements TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (answer_id) REFERENCES answers(id)
	);

	CREATE TABLE IF NOT EXISTS audio_blobs (
		ref TEXT PRIMARY KEY,
		content_type TEXT NOT NULL DEFAULT 'audio/webm',
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertTest stores a speaking test.
func (s *Store) InsertTest(t model.SpeakingTest) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO speaking_tests (course_id, title, duration_minutes, pass_score, total_score, language, is_published, is_demo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CourseID, t.Title, t.DurationMinutes, t.PassScore, t.TotalScore, t.Language, t.IsPublished, t.IsDemo,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetTest returns a test by ID.
func (s *Store) GetTest(id int64) (model.SpeakingTest, error) {
	var t model.SpeakingTest
	err := s.db.QueryRow(
		`SELECT id, course_id, title, duration_minutes, pass_score, total_score, language, is_published, is_demo
		 FROM speaking_tests WHERE id = ?`, id,
	).Scan(&t.ID, &t.CourseID, &t.Title, &t.DurationMinutes, &t.PassScore, &t.TotalScore, &t.Language, &t.IsPublished, &t.IsDemo)
	return t, err
}

// ListPublishedTests returns all published tests.
func (s *Store) ListPublishedTests() ([]model.SpeakingTest, error) {
	rows, err := s.db.Query(
		`SELECT id, course_id, title, duration_minutes, pass_score, total_score, language, is_published, is_demo
		 FROM speaking_tests WHERE is_published = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tests []model.SpeakingTest
	for rows.Next() {
		var t model.SpeakingTest
		if err := rows.Scan(&t.ID, &t.CourseID, &t.Title, &t.DurationMinutes, &t.PassScore, &t.TotalScore, &t.Language, &t.IsPublished, &t.IsDemo); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// TestCount returns the number of tests in the database.
func (s *Store) TestCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM speaking_tests`).Scan(&count)
	return count, err
}

// InsertSection stores a section.
func (s *Store) InsertSection(sec model.Section) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sections (test_id, parent_id, section_number, title, preparation_seconds, speaking_seconds, image_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sec.TestID, sec.ParentID, sec.SectionNumber, sec.Title, sec.PreparationSeconds, sec.SpeakingSeconds, sec.ImageURL,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (section_id, question_number, text, preparation_seconds, speaking_seconds, key_facts_to_mention, key_facts_to_avoid, media_url, max_points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.SectionID, q.QuestionNumber, q.Text, q.PreparationSeconds, q.SpeakingSeconds, q.KeyFactsToMention, q.KeyFactsToAvoid, q.MediaURL, q.MaxPoints,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// sectionsForTest returns all sections of a test in storage order.
func (s *Store) sectionsForTest(testID int64) ([]*model.Section, error) {
	rows, err := s.db.Query(
		`SELECT id, test_id, parent_id, section_number, title, preparation_seconds, speaking_seconds, image_url
		 FROM sections WHERE test_id = ?`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []*model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.TestID, &sec.ParentID, &sec.SectionNumber, &sec.Title, &sec.PreparationSeconds, &sec.SpeakingSeconds, &sec.ImageURL); err != nil {
			return nil, err
		}
		sections = append(sections, &sec)
	}
	return sections, rows.Err()
}

// questionsForTest returns all questions of a test in storage order.
func (s *Store) questionsForTest(testID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT q.id, q.section_id, q.question_number, q.text, q.preparation_seconds, q.speaking_seconds,
		        q.key_facts_to_mention, q.key_facts_to_avoid, q.media_url, q.max_points
		 FROM questions q JOIN sections sec ON q.section_id = sec.id
		 WHERE sec.test_id = ?`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionNumber, &q.Text, &q.PreparationSeconds, &q.SpeakingSeconds, &q.KeyFactsToMention, &q.KeyFactsToAvoid, &q.MediaURL, &q.MaxPoints); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetTestPlan loads a test with its full section/question tree, resolves
// parent references, and validates the structure. A malformed tree is
// rejected here, before any learner can begin.
func (s *Store) GetTestPlan(testID int64) (*model.TestPlan, error) {
	test, err := s.GetTest(testID)
	if err != nil {
		return nil, err
	}
	sections, err := s.sectionsForTest(testID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questionsForTest(testID)
	if err != nil {
		return nil, err
	}
	return model.NewTestPlan(test, sections, questions)
}
