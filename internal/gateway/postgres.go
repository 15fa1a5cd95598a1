// Package gateway implements the submission gateway on postgres. It owns
// quiz content and submission records; the session controller talks to it
// through the session.Gateway interface.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
	"github.com/JohnnyZhao2/LMS-sub002/internal/grading"
	"github.com/JohnnyZhao2/LMS-sub002/internal/session"
)

const codeUniqueViolation = "23505"

type Postgres struct {
	db     *pgxpool.Pool
	grader grading.Engine
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ session.Gateway = (*Postgres)(nil)

// StartSession creates a session row and returns the hydrated session. For
// EXAM the remaining seconds come back from the database clock, not the
// caller's wall clock.
func (p *Postgres) StartSession(ctx context.Context, req session.StartRequest) (*domain.Session, error) {
	quiz, err := p.loadQuiz(ctx, req.TaskID, req.QuizID)
	if err != nil {
		return nil, err
	}

	questions, total, err := p.loadQuestions(ctx, quiz.quizID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	const stmt = `
INSERT INTO sessions (session_id, quiz_id, username, mode, started_at, deadline)
VALUES ($1, $2, $3, $4, now(), CASE WHEN $4 = 'EXAM' THEN now() + make_interval(secs => $5) END)
RETURNING COALESCE(GREATEST(0, CEIL(EXTRACT(EPOCH FROM (deadline - now()))))::int, 0);`

	var remaining int
	err = p.db.QueryRow(ctx, stmt, id, quiz.quizID, req.Username, quiz.mode, quiz.durationSeconds).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return &domain.Session{
		SessionID:       id.String(),
		Username:        req.Username,
		TaskID:          req.TaskID,
		QuizID:          quiz.quizID,
		Mode:            quiz.mode,
		Questions:       questions,
		TotalScore:      total,
		DurationSeconds: remaining,
		Status:          domain.StatusInitializing,
	}, nil
}

// SaveAnswer upserts one answer record. Best-effort persistence for
// practice sessions.
func (p *Postgres) SaveAnswer(ctx context.Context, sessionID string, questionID int64, rec domain.AnswerRecord) error {
	b, err := json.Marshal(answerJSON{Selected: rec.Selected, Text: rec.Text})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	const stmt = `
INSERT INTO session_answers (session_id, question_id, answer, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id, question_id) DO UPDATE SET answer = $3, updated_at = now();`

	_, err = p.db.Exec(ctx, stmt, sessionID, questionID, b)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Submit grades the final answer set and stores the result. Idempotent on
// session id: a repeated call returns the stored result instead of grading
// twice, so the controller may retry on transient failure.
func (p *Postgres) Submit(ctx context.Context, sessionID string, records map[int64]domain.AnswerRecord) (*domain.Result, error) {
	meta, err := p.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	questions, total, err := p.loadQuestions(ctx, meta.quizID)
	if err != nil {
		return nil, err
	}

	res := p.grader.GradeSession(&domain.Session{
		SessionID:  sessionID,
		Mode:       meta.mode,
		Questions:  questions,
		TotalScore: total,
	}, records)

	if err := p.insertSubmission(ctx, sessionID, records, &res); err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return p.loadResult(ctx, sessionID)
		}
		return nil, err
	}

	return &res, nil
}

func (p *Postgres) insertSubmission(ctx context.Context, sessionID string, records map[int64]domain.AnswerRecord, res *domain.Result) (err error) {
	answers := make(map[int64]answerJSON, len(records))
	for id, rec := range records {
		answers[id] = answerJSON{Selected: rec.Selected, Text: rec.Text}
	}
	answersB, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	gradesB, err := json.Marshal(res.Grades)
	if err != nil {
		return fmt.Errorf("marshal grades: %w", err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insStmt = `
INSERT INTO submissions (session_id, answers, grades, score, total_score, correct_cnt, incorrect_cnt, pending_cnt, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now());`
		updStmt = `UPDATE sessions SET status = 'COMPLETED', submitted_at = now() WHERE session_id = $1;`
	)

	_, err = tx.Exec(ctx, insStmt, sessionID, answersB, gradesB, res.Score, res.TotalScore, res.Correct, res.Incorrect, res.Pending)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	_, err = tx.Exec(ctx, updStmt, sessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) loadResult(ctx context.Context, sessionID string) (*domain.Result, error) {
	const stmt = `
SELECT score, total_score, correct_cnt, incorrect_cnt, pending_cnt, grades
FROM submissions WHERE session_id = $1;`

	res := domain.Result{SessionID: sessionID}
	var gradesB []byte
	err := p.db.QueryRow(ctx, stmt, sessionID).
		Scan(&res.Score, &res.TotalScore, &res.Correct, &res.Incorrect, &res.Pending, &gradesB)
	if err != nil {
		return nil, fmt.Errorf("load stored result: %w", err)
	}
	if err := json.Unmarshal(gradesB, &res.Grades); err != nil {
		return nil, fmt.Errorf("unmarshal grades: %w", err)
	}
	if res.TotalScore > 0 {
		res.Percentage = decimal.NewFromInt(int64(res.Score)).
			Div(decimal.NewFromInt(int64(res.TotalScore))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return &res, nil
}

type quizMeta struct {
	quizID          int64
	mode            domain.Mode
	durationSeconds int
}

func (p *Postgres) loadQuiz(ctx context.Context, taskID, quizID int64) (quizMeta, error) {
	const stmt = `
SELECT quiz_id, mode, COALESCE(duration_seconds, 0)
FROM quizzes
WHERE task_id = $1 AND ($2 = 0 OR quiz_id = $2)
ORDER BY quiz_id
LIMIT 1;`

	var q quizMeta
	err := p.db.QueryRow(ctx, stmt, taskID, quizID).Scan(&q.quizID, &q.mode, &q.durationSeconds)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return q, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: task=%d quiz=%d", taskID, quizID))
	}
	if err != nil {
		return q, fmt.Errorf("load quiz: %w", err)
	}
	return q, nil
}

type sessionMeta struct {
	quizID   int64
	username string
	mode     domain.Mode
}

func (p *Postgres) loadSession(ctx context.Context, sessionID string) (sessionMeta, error) {
	const stmt = `SELECT quiz_id, username, mode FROM sessions WHERE session_id = $1;`

	var m sessionMeta
	err := p.db.QueryRow(ctx, stmt, sessionID).Scan(&m.quizID, &m.username, &m.mode)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return m, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	if err != nil {
		return m, fmt.Errorf("load session: %w", err)
	}
	return m, nil
}

func (p *Postgres) loadQuestions(ctx context.Context, quizID int64) ([]domain.SessionQuestion, int, error) {
	const stmt = `
SELECT q.question_id, q.qtype, q.content, q.explanation, qq.ord, qq.score
FROM quiz_questions qq
JOIN questions q ON q.question_id = qq.question_id
WHERE qq.quiz_id = $1
ORDER BY qq.ord;`

	rows, err := p.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, 0, fmt.Errorf("load questions: %w", err)
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.SessionQuestion, error) {
		var q domain.SessionQuestion
		if err := r.Scan(&q.QuestionID, &q.Type, &q.Content, &q.Explanation, &q.Order, &q.Score); err != nil {
			return domain.SessionQuestion{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("collect questions: %w", err)
	}

	if err := p.attachOptions(ctx, questions); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, q := range questions {
		total += q.Score
	}
	return questions, total, nil
}

func (p *Postgres) attachOptions(ctx context.Context, questions []domain.SessionQuestion) error {
	if len(questions) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(questions))
	byID := make(map[int64]*domain.SessionQuestion, len(questions))
	for i := range questions {
		ids = append(ids, questions[i].QuestionID)
		byID[questions[i].QuestionID] = &questions[i]
	}

	const stmt = `
SELECT question_id, opt_key, content, is_correct
FROM question_options
WHERE question_id = ANY($1)
ORDER BY question_id, opt_key;`

	rows, err := p.db.Query(ctx, stmt, ids)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			qid       int64
			opt       domain.Option
			isCorrect bool
		)
		if err := rows.Scan(&qid, &opt.Key, &opt.Content, &isCorrect); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}

		q := byID[qid]
		if q == nil {
			continue
		}
		q.Options = append(q.Options, opt)
		if isCorrect && q.Type != domain.QuestionTypeShortAnswer {
			q.CorrectKeys = append(q.CorrectKeys, opt.Key)
		}
	}
	return rows.Err()
}

type answerJSON struct {
	Selected []string `json:"selected,omitempty"`
	Text     string   `json:"text,omitempty"`
}
