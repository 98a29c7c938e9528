package session

import (
	"errors"

	"github.com/pavelanni/speakexam/internal/model"
)

var (
	// ErrAtEnd means Next was called on the last question; the caller
	// should offer submission instead.
	ErrAtEnd = errors.New("already at the last question")
	// ErrAtStart means Previous was called on the first question.
	ErrAtStart = errors.New("already at the first question")
	// ErrNoQuestions means the plan contains no questions at all.
	ErrNoQuestions = errors.New("test has no questions")
)

// Navigator walks the flattened question plan with a single cursor.
// Moving the cursor force-stops any in-flight recording first, so no two
// questions can ever be mid-recording at once.
type Navigator struct {
	plan  *model.TestPlan
	items []model.PlanItem
	rec   *Recorder
	pos   int
}

// NewNavigator builds a navigator over a validated plan.
func NewNavigator(plan *model.TestPlan, rec *Recorder) (*Navigator, error) {
	items := plan.Flatten()
	if len(items) == 0 {
		return nil, ErrNoQuestions
	}
	return &Navigator{plan: plan, items: items, rec: rec}, nil
}

// Current returns the plan item under the cursor.
func (n *Navigator) Current() model.PlanItem {
	return n.items[n.pos]
}

// Index returns the cursor position within the traversal, zero-based.
func (n *Navigator) Index() int {
	return n.pos
}

// AtEnd reports whether the cursor is on the last question, where the
// submit affordance replaces Next.
func (n *Navigator) AtEnd() bool {
	return n.pos == len(n.items)-1
}

// Next advances to the following question, crossing into the next
// section's first question when the current section runs out.
func (n *Navigator) Next() (model.PlanItem, error) {
	if _, err := n.rec.Stop(); err != nil {
		return model.PlanItem{}, err
	}
	if n.AtEnd() {
		return n.items[n.pos], ErrAtEnd
	}
	n.pos++
	return n.items[n.pos], nil
}

// Previous moves back one question, landing on the prior section's last
// question when crossing a section boundary.
func (n *Navigator) Previous() (model.PlanItem, error) {
	if _, err := n.rec.Stop(); err != nil {
		return model.PlanItem{}, err
	}
	if n.pos == 0 {
		return n.items[n.pos], ErrAtStart
	}
	n.pos--
	return n.items[n.pos], nil
}

// Progress returns answered and total question counts. It is recomputed
// from the stored takes on every call, never cached.
func (n *Navigator) Progress() (answered, total int) {
	takes := n.rec.Takes()
	for _, item := range n.items {
		if _, ok := takes[item.Question.ID]; ok {
			answered++
		}
	}
	return answered, len(n.items)
}

// Assemble packages the recorded takes into a submission bundle.
func (n *Navigator) Assemble() (*Bundle, error) {
	return AssembleBundle(n.plan, n.rec.Takes())
}
