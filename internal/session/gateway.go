package session

import (
	"context"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
)

// StartRequest identifies the quiz a learner wants to attempt.
type StartRequest struct {
	Username string
	TaskID   int64
	QuizID   int64
}

// Gateway is the boundary to the backend that owns quiz content and
// submission records. Submit must be idempotent on session id: a repeated
// call returns the originally stored result instead of grading twice.
type Gateway interface {
	// StartSession creates a session and returns it hydrated with ordered
	// questions, total score, mode and, for EXAM, the server-computed
	// remaining seconds.
	StartSession(ctx context.Context, req StartRequest) (*domain.Session, error)

	// SaveAnswer persists one answer best-effort. PRACTICE convenience only;
	// it has no bearing on the state machine.
	SaveAnswer(ctx context.Context, sessionID string, questionID int64, rec domain.AnswerRecord) error

	// Submit grades and stores the full final answer set.
	Submit(ctx context.Context, sessionID string, records map[int64]domain.AnswerRecord) (*domain.Result, error)
}
