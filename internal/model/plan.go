package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedTree is wrapped by every structural validation failure:
// duplicate ordering numbers, orphan parent references, cycles. A test
// that fails validation must never be served to a learner, since a
// misordered timed assessment is worse than no assessment.
var ErrMalformedTree = errors.New("malformed test structure")

// TestPlan is a fully resolved, validated speaking test: the section tree
// with questions attached, plus the flattened traversal order.
type TestPlan struct {
	Test     SpeakingTest
	Sections []*Section // top-level sections, ordered by SectionNumber

	flat []PlanItem
}

// PlanItem is one stop in the linearized traversal: a question together
// with its resolved timing.
type PlanItem struct {
	Section            *Section
	Question           Question
	PreparationSeconds int
	SpeakingSeconds    int
}

// NewTestPlan resolves parent references into a tree, attaches questions
// to their sections, validates the structure, and precomputes the
// traversal order. The input slices may come in any storage order.
func NewTestPlan(test SpeakingTest, sections []*Section, questions []Question) (*TestPlan, error) {
	byID := make(map[int64]*Section, len(sections))
	for _, s := range sections {
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate section id %d", ErrMalformedTree, s.ID)
		}
		s.Children = nil
		s.Questions = nil
		byID[s.ID] = s
	}

	var roots []*Section
	for _, s := range sections {
		if s.ParentID == nil {
			roots = append(roots, s)
			continue
		}
		parent, ok := byID[*s.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: section %d references missing parent %d", ErrMalformedTree, s.ID, *s.ParentID)
		}
		if parent.ID == s.ID {
			return nil, fmt.Errorf("%w: section %d is its own parent", ErrMalformedTree, s.ID)
		}
		parent.Children = append(parent.Children, s)
	}
	if len(sections) > 0 && len(roots) == 0 {
		return nil, fmt.Errorf("%w: no top-level sections (parent cycle)", ErrMalformedTree)
	}

	for _, q := range questions {
		sec, ok := byID[q.SectionID]
		if !ok {
			return nil, fmt.Errorf("%w: question %d belongs to missing section %d", ErrMalformedTree, q.ID, q.SectionID)
		}
		sec.Questions = append(sec.Questions, q)
	}

	p := &TestPlan{Test: test, Sections: roots}
	if err := p.sortAndValidate(); err != nil {
		return nil, err
	}

	// A parent cycle disconnected from the roots would otherwise go
	// unnoticed: every section must be reachable.
	if got := countSections(roots); got != len(sections) {
		return nil, fmt.Errorf("%w: %d of %d sections unreachable from top level", ErrMalformedTree, len(sections)-got, len(sections))
	}

	p.flat = flattenSections(roots, nil)
	return p, nil
}

func (p *TestPlan) sortAndValidate() error {
	return validateSiblings(p.Sections)
}

func validateSiblings(siblings []*Section) error {
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].SectionNumber < siblings[j].SectionNumber
	})
	seen := make(map[int]int64)
	for _, s := range siblings {
		if prev, dup := seen[s.SectionNumber]; dup {
			return fmt.Errorf("%w: sections %d and %d share section_number %d", ErrMalformedTree, prev, s.ID, s.SectionNumber)
		}
		seen[s.SectionNumber] = s.ID

		sort.SliceStable(s.Questions, func(i, j int) bool {
			return s.Questions[i].QuestionNumber < s.Questions[j].QuestionNumber
		})
		qseen := make(map[int]int64)
		for _, q := range s.Questions {
			if prev, dup := qseen[q.QuestionNumber]; dup {
				return fmt.Errorf("%w: questions %d and %d in section %d share question_number %d", ErrMalformedTree, prev, q.ID, s.ID, q.QuestionNumber)
			}
			qseen[q.QuestionNumber] = q.ID
		}

		if err := validateSiblings(s.Children); err != nil {
			return err
		}
	}
	return nil
}

// flattenSections walks sections depth-first: each section's own questions
// first, then its child sections, siblings ordered by SectionNumber.
func flattenSections(siblings []*Section, acc []PlanItem) []PlanItem {
	for _, s := range siblings {
		for _, q := range s.Questions {
			acc = append(acc, PlanItem{
				Section:            s,
				Question:           q,
				PreparationSeconds: effectiveSeconds(q.PreparationSeconds, s.PreparationSeconds),
				SpeakingSeconds:    effectiveSeconds(q.SpeakingSeconds, s.SpeakingSeconds),
			})
		}
		acc = flattenSections(s.Children, acc)
	}
	return acc
}

func effectiveSeconds(override, sectionDefault int) int {
	if override > 0 {
		return override
	}
	return sectionDefault
}

func countSections(siblings []*Section) int {
	n := 0
	for _, s := range siblings {
		n += 1 + countSections(s.Children)
	}
	return n
}

// Flatten returns the traversal order: every question in the test, sorted
// by (section_number path, question_number). The result is identical
// regardless of the order sections and questions were loaded in.
func (p *TestPlan) Flatten() []PlanItem {
	return p.flat
}

// QuestionCount returns the number of questions across all sections.
func (p *TestPlan) QuestionCount() int {
	return len(p.flat)
}

// MaxScore sums MaxPoints over every question in the test, answered or not.
func (p *TestPlan) MaxScore() float64 {
	var total float64
	for _, item := range p.flat {
		total += float64(item.Question.MaxPoints)
	}
	return total
}

// FindQuestion returns the plan item for a question id, or false.
func (p *TestPlan) FindQuestion(questionID int64) (PlanItem, bool) {
	for _, item := range p.flat {
		if item.Question.ID == questionID {
			return item, true
		}
	}
	return PlanItem{}, false
}
