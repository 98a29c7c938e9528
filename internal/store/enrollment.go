package store

// AccessGate decides whether a learner may attempt a test. The store
// carries a default implementation; a course/enrollment service can
// replace it behind the same interface.
type AccessGate interface {
	CanAttempt(learnerID, testID int64) (bool, error)
}

// AddEnrollment grants a learner access to a course-bound test.
func (s *Store) AddEnrollment(learnerID, testID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO enrollments (learner_id, test_id) VALUES (?, ?)
		 ON CONFLICT (learner_id, test_id) DO NOTHING`,
		learnerID, testID,
	)
	return err
}

// CanAttempt implements the enrollment gate: published demo and
// standalone tests are open to any learner; course-bound tests require an
// enrollment row. Unpublished tests are never attemptable.
func (s *Store) CanAttempt(learnerID, testID int64) (bool, error) {
	test, err := s.GetTest(testID)
	if err != nil {
		return false, err
	}
	if !test.IsPublished {
		return false, nil
	}
	if test.IsDemo || test.CourseID == nil {
		return true, nil
	}

	var count int
	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM enrollments WHERE learner_id = ? AND test_id = ?`,
		learnerID, testID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
