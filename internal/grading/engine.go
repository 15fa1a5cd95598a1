// Package grading compares answers against correct keys and computes session
// results. SHORT_ANSWER is never auto-scored; it is reported as PENDING for
// manual grading.
package grading

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
)

// Engine is a stateless grader. Grading the same inputs twice yields the
// same outputs.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// GradeQuestion grades a single question against its answer record. A record
// that does not count as an answer is graded as incorrect, except for
// SHORT_ANSWER which is always PENDING with zero awarded points.
func (Engine) GradeQuestion(q domain.SessionQuestion, rec domain.AnswerRecord) domain.QuestionGrade {
	g := domain.QuestionGrade{
		QuestionID: q.QuestionID,
		Verdict:    domain.VerdictIncorrect,
	}

	if q.Type == domain.QuestionTypeShortAnswer {
		g.Verdict = domain.VerdictPending
		return g
	}

	if !rec.Answered() {
		return g
	}

	switch q.Type {
	case domain.QuestionTypeSingleChoice, domain.QuestionTypeTrueFalse:
		if len(rec.Selected) == 1 && len(q.CorrectKeys) == 1 && rec.Selected[0] == q.CorrectKeys[0] {
			g.Verdict = domain.VerdictCorrect
		}
	case domain.QuestionTypeMultipleChoice:
		// Exact set equality. Any missing or extra key scores zero, no
		// partial credit.
		if sameKeySet(rec.Selected, q.CorrectKeys) {
			g.Verdict = domain.VerdictCorrect
		}
	}

	if g.Verdict == domain.VerdictCorrect {
		g.Awarded = q.Score
	}
	return g
}

// GradeSession grades every question of a session against the answer
// snapshot and aggregates the result.
func (e Engine) GradeSession(ss *domain.Session, records map[int64]domain.AnswerRecord) domain.Result {
	res := domain.Result{
		SessionID:  ss.SessionID,
		TotalScore: ss.TotalScore,
		Grades:     make([]domain.QuestionGrade, 0, len(ss.Questions)),
	}

	for _, q := range ss.Questions {
		g := e.GradeQuestion(q, records[q.QuestionID])
		res.Grades = append(res.Grades, g)

		switch g.Verdict {
		case domain.VerdictCorrect:
			res.Correct++
			res.Score += g.Awarded
		case domain.VerdictIncorrect:
			res.Incorrect++
		case domain.VerdictPending:
			res.Pending++
		}
	}

	if ss.TotalScore > 0 {
		res.Percentage = decimal.NewFromInt(int64(res.Score)).
			Div(decimal.NewFromInt(int64(ss.TotalScore))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return res
}

func sameKeySet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}

	a, b := slices.Clone(got), slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
