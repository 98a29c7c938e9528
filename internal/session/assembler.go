package session

import (
	"errors"

	"github.com/pavelanni/speakexam/internal/model"
)

// ErrNoAnswersRecorded means assembly was attempted with zero takes; a
// submission must carry at least one answer.
var ErrNoAnswersRecorded = errors.New("no answers recorded")

// BundleEntry is one recorded answer ready for transport.
type BundleEntry struct {
	QuestionID      int64
	Audio           []byte
	DurationSeconds float64
}

// Bundle is the complete transmittable submission payload. Entries follow
// the traversal order of the plan; questions without a take are simply
// absent, never zero-filled.
type Bundle struct {
	TestID  int64
	Entries []BundleEntry
}

// AssembleBundle collects the stored takes into a Bundle, one entry per
// question that has a recording.
func AssembleBundle(plan *model.TestPlan, takes map[int64]Take) (*Bundle, error) {
	if len(takes) == 0 {
		return nil, ErrNoAnswersRecorded
	}

	b := &Bundle{TestID: plan.Test.ID}
	for _, item := range plan.Flatten() {
		take, ok := takes[item.Question.ID]
		if !ok {
			continue
		}
		b.Entries = append(b.Entries, BundleEntry{
			QuestionID:      take.QuestionID,
			Audio:           take.Audio,
			DurationSeconds: take.Duration.Seconds(),
		})
	}
	if len(b.Entries) == 0 {
		return nil, ErrNoAnswersRecorded
	}
	return b, nil
}
