package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
)

type Mode string

const (
	ModePractice Mode = "PRACTICE"
	ModeExam     Mode = "EXAM"
)

// Status of a session. COMPLETED and INIT_FAILED are terminal.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusActive       Status = "ACTIVE"
	StatusSubmitting   Status = "SUBMITTING"
	StatusCompleted    Status = "COMPLETED"
	StatusExpired      Status = "EXPIRED"
	StatusInitFailed   Status = "INIT_FAILED"
)

type Option struct {
	Key     string
	Content string
}

type Question struct {
	QuestionID  int64
	Type        QuestionType
	Content     string
	Options     []Option
	CorrectKeys []string // single key, a set for MULTIPLE_CHOICE, empty for SHORT_ANSWER
	Explanation string
}

// SessionQuestion is a question as it appears inside one session, with its
// 1-based display order and point value.
type SessionQuestion struct {
	Question
	Order int
	Score int
}

// AnswerRecord holds a learner's answer for a single question: selected
// option keys for choice types, free text for SHORT_ANSWER.
type AnswerRecord struct {
	Selected []string
	Text     string
}

// Answered reports whether the record counts as an answer: non-empty
// selection, or non-blank text after trimming.
func (r AnswerRecord) Answered() bool {
	return len(r.Selected) > 0 || strings.TrimSpace(r.Text) != ""
}

// Session is one learner's attempt at a quiz. Owned exclusively by its
// session controller for its lifetime.
type Session struct {
	SessionID       string
	Username        string
	TaskID          int64
	QuizID          int64
	Mode            Mode
	Questions       []SessionQuestion
	TotalScore      int
	DurationSeconds int // remaining seconds at start, server-computed; EXAM only
	Status          Status
	SubmittedAt     time.Time // set once, never cleared
}

type Verdict string

const (
	VerdictCorrect   Verdict = "CORRECT"
	VerdictIncorrect Verdict = "INCORRECT"
	VerdictPending   Verdict = "PENDING" // needs manual grading
)

// QuestionGrade is the outcome of grading one question.
type QuestionGrade struct {
	QuestionID int64
	Awarded    int
	Verdict    Verdict
}

// Result of a submitted session. Score sums awarded points over all
// non-PENDING questions.
type Result struct {
	SessionID  string
	Score      int
	TotalScore int
	Percentage decimal.Decimal
	Correct    int
	Incorrect  int
	Pending    int
	Grades     []QuestionGrade
}
