package grading_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/grading"
)

func singleChoice(id int64, correct string, score int) domain.SessionQuestion {
	return domain.SessionQuestion{
		Question: domain.Question{
			QuestionID:  id,
			Type:        domain.QuestionTypeSingleChoice,
			CorrectKeys: []string{correct},
		},
		Score: score,
	}
}

func multipleChoice(id int64, correct []string, score int) domain.SessionQuestion {
	return domain.SessionQuestion{
		Question: domain.Question{
			QuestionID:  id,
			Type:        domain.QuestionTypeMultipleChoice,
			CorrectKeys: correct,
		},
		Score: score,
	}
}

func shortAnswer(id int64, score int) domain.SessionQuestion {
	return domain.SessionQuestion{
		Question: domain.Question{
			QuestionID: id,
			Type:       domain.QuestionTypeShortAnswer,
		},
		Score: score,
	}
}

func TestEngine_GradeQuestion(t *testing.T) {
	type (
		inputs struct {
			question domain.SessionQuestion
			record   domain.AnswerRecord
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		want    domain.QuestionGrade
	}{
		"single choice correct": {
			arrange: func() inputs {
				return inputs{
					question: singleChoice(1, "A", 10),
					record:   domain.AnswerRecord{Selected: []string{"A"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 1, Awarded: 10, Verdict: domain.VerdictCorrect},
		},

		"single choice wrong": {
			arrange: func() inputs {
				return inputs{
					question: singleChoice(1, "A", 10),
					record:   domain.AnswerRecord{Selected: []string{"B"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 1, Awarded: 0, Verdict: domain.VerdictIncorrect},
		},

		"single choice unanswered counts incorrect": {
			arrange: func() inputs {
				return inputs{question: singleChoice(1, "A", 10)}
			},
			want: domain.QuestionGrade{QuestionID: 1, Awarded: 0, Verdict: domain.VerdictIncorrect},
		},

		"true/false exact key match": {
			arrange: func() inputs {
				q := singleChoice(1, "TRUE", 5)
				q.Type = domain.QuestionTypeTrueFalse
				return inputs{
					question: q,
					record:   domain.AnswerRecord{Selected: []string{"TRUE"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 1, Awarded: 5, Verdict: domain.VerdictCorrect},
		},

		"multiple choice exact set": {
			arrange: func() inputs {
				return inputs{
					question: multipleChoice(2, []string{"A", "C"}, 10),
					record:   domain.AnswerRecord{Selected: []string{"C", "A"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 2, Awarded: 10, Verdict: domain.VerdictCorrect},
		},

		"multiple choice missing key scores zero": {
			arrange: func() inputs {
				return inputs{
					question: multipleChoice(2, []string{"A", "B"}, 10),
					record:   domain.AnswerRecord{Selected: []string{"A"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 2, Awarded: 0, Verdict: domain.VerdictIncorrect},
		},

		"multiple choice extra key scores zero": {
			arrange: func() inputs {
				return inputs{
					question: multipleChoice(2, []string{"A", "B"}, 10),
					record:   domain.AnswerRecord{Selected: []string{"A", "B", "C"}},
				}
			},
			want: domain.QuestionGrade{QuestionID: 2, Awarded: 0, Verdict: domain.VerdictIncorrect},
		},

		"short answer is always pending": {
			arrange: func() inputs {
				return inputs{
					question: shortAnswer(3, 10),
					record:   domain.AnswerRecord{Text: "mitochondria"},
				}
			},
			want: domain.QuestionGrade{QuestionID: 3, Awarded: 0, Verdict: domain.VerdictPending},
		},

		"short answer pending even when blank": {
			arrange: func() inputs {
				return inputs{question: shortAnswer(3, 10)}
			},
			want: domain.QuestionGrade{QuestionID: 3, Awarded: 0, Verdict: domain.VerdictPending},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			got := grading.NewEngine().GradeQuestion(in.question, in.record)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_GradeSession(t *testing.T) {
	ss := &domain.Session{
		SessionID:  "s1",
		TotalScore: 30,
		Questions: []domain.SessionQuestion{
			singleChoice(1, "A", 10),
			multipleChoice(2, []string{"A", "C"}, 10),
			shortAnswer(3, 10),
		},
	}

	records := map[int64]domain.AnswerRecord{
		1: {Selected: []string{"A"}},
		2: {Selected: []string{"A", "C"}},
	}

	e := grading.NewEngine()
	res := e.GradeSession(ss, records)

	assert.Equal(t, 20, res.Score)
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 0, res.Incorrect)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, "66.67", res.Percentage.StringFixed(2))
	require.Len(t, res.Grades, 3)
}

func TestEngine_GradeSession_Idempotent(t *testing.T) {
	ss := &domain.Session{
		SessionID:  "s1",
		TotalScore: 20,
		Questions: []domain.SessionQuestion{
			singleChoice(1, "A", 10),
			multipleChoice(2, []string{"A", "B"}, 10),
		},
	}
	records := map[int64]domain.AnswerRecord{
		1: {Selected: []string{"B"}},
		2: {Selected: []string{"A", "B"}},
	}

	e := grading.NewEngine()
	first := e.GradeSession(ss, records)
	second := e.GradeSession(ss, records)
	assert.Equal(t, first, second)
}

func TestEngine_GradeSession_NoAnswers(t *testing.T) {
	ss := &domain.Session{
		SessionID:  "s1",
		TotalScore: 30,
		Questions: []domain.SessionQuestion{
			singleChoice(1, "A", 10),
			multipleChoice(2, []string{"A", "C"}, 10),
			shortAnswer(3, 10),
		},
	}

	res := grading.NewEngine().GradeSession(ss, nil)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, 0, res.Correct)
	assert.Equal(t, 2, res.Incorrect)
	assert.Equal(t, 1, res.Pending)
}
