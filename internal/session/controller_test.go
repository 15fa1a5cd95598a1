package session_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyZhao2/LMS-sub002/internal/answers"
	"github.com/JohnnyZhao2/LMS-sub002/internal/countdown"
	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/event"
	"github.com/JohnnyZhao2/LMS-sub002/internal/grading"
	"github.com/JohnnyZhao2/LMS-sub002/internal/session"
)

// fakeGateway grades for real but lets tests script start/submit failures.
type fakeGateway struct {
	mu          sync.Mutex
	template    domain.Session
	startErr    error
	submitErrs  []error // consumed one per Submit call; nil entry = success
	submitDelay time.Duration
	submitCalls int
	lastPayload map[int64]domain.AnswerRecord
	saved       map[int64]domain.AnswerRecord
	grader      grading.Engine
}

func (g *fakeGateway) StartSession(_ context.Context, req session.StartRequest) (*domain.Session, error) {
	if g.startErr != nil {
		return nil, g.startErr
	}

	ss := g.template
	ss.Username = req.Username
	ss.TaskID = req.TaskID
	return &ss, nil
}

func (g *fakeGateway) SaveAnswer(_ context.Context, _ string, questionID int64, rec domain.AnswerRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.saved == nil {
		g.saved = make(map[int64]domain.AnswerRecord)
	}
	g.saved[questionID] = rec
	return nil
}

func (g *fakeGateway) Submit(_ context.Context, _ string, records map[int64]domain.AnswerRecord) (*domain.Result, error) {
	if g.submitDelay > 0 {
		time.Sleep(g.submitDelay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.submitCalls++
	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	g.lastPayload = records
	ss := g.template
	res := g.grader.GradeSession(&ss, records)
	return &res, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.submitCalls
}

// Three questions: SINGLE_CHOICE correct=A, MULTIPLE_CHOICE correct={A,C},
// SHORT_ANSWER. 10 points each.
func quizTemplate(mode domain.Mode, durationSeconds int) domain.Session {
	opts := []domain.Option{
		{Key: "A", Content: "option A"},
		{Key: "B", Content: "option B"},
		{Key: "C", Content: "option C"},
		{Key: "D", Content: "option D"},
	}

	return domain.Session{
		SessionID: "s1",
		Mode:      mode,
		Questions: []domain.SessionQuestion{
			{
				Question: domain.Question{
					QuestionID:  1,
					Type:        domain.QuestionTypeSingleChoice,
					Options:     opts,
					CorrectKeys: []string{"A"},
					Explanation: "A is right",
				},
				Order: 1,
				Score: 10,
			},
			{
				Question: domain.Question{
					QuestionID:  2,
					Type:        domain.QuestionTypeMultipleChoice,
					Options:     opts,
					CorrectKeys: []string{"A", "C"},
				},
				Order: 2,
				Score: 10,
			},
			{
				Question: domain.Question{
					QuestionID: 3,
					Type:       domain.QuestionTypeShortAnswer,
					Content:    "explain",
				},
				Order: 3,
				Score: 10,
			},
		},
		TotalScore:      30,
		DurationSeconds: durationSeconds,
	}
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func startController(t *testing.T, gw *fakeGateway, opts ...func(*session.Config)) (*session.Controller, *manualTicker) {
	t.Helper()

	mt := &manualTicker{ch: make(chan time.Time)}
	cfg := session.Config{
		Gateway:       gw,
		RetryBackoff:  time.Millisecond,
		NewTickerFunc: func(time.Duration) countdown.Ticker { return mt },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := session.Start(context.Background(), cfg, session.StartRequest{
		Username: "learner",
		TaskID:   7,
	})
	require.NoError(t, err)
	return c, mt
}

func TestStart_InitFailed(t *testing.T) {
	gw := &fakeGateway{startErr: stderrors.New("boom")}

	_, err := session.Start(context.Background(), session.Config{Gateway: gw}, session.StartRequest{
		Username: "learner",
	})
	require.ErrorIs(t, err, session.ErrInitFailed)
}

func TestController_ManualSubmit(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModeExam, 60)}
	c, _ := startController(t, gw)
	ctx := context.Background()

	require.Equal(t, domain.StatusActive, c.Status())

	require.NoError(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"A"}}))
	require.NoError(t, c.ToggleOption(ctx, 2, "A"))
	require.NoError(t, c.ToggleOption(ctx, 2, "C"))

	// Q3 is blank: an unforced submit only reports it, no submission.
	res, unanswered, err := c.Submit(ctx, false)
	require.NoError(t, err)
	require.Nil(t, res)
	assert.Equal(t, []int{2}, unanswered)
	assert.Equal(t, domain.StatusActive, c.Status())
	assert.Equal(t, 0, gw.calls())

	res, _, err = c.Submit(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 20, res.Score)
	assert.Equal(t, 2, res.Correct)
	assert.Equal(t, 0, res.Incorrect)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, domain.StatusCompleted, c.Status())
	assert.Equal(t, 1, gw.calls())
	assert.False(t, c.Session().SubmittedAt.IsZero())

	// COMPLETED is terminal: answers are frozen, a repeat submit returns the
	// stored result without another gateway call.
	err = c.SetAnswer(ctx, 3, domain.AnswerRecord{Text: "late"})
	require.ErrorIs(t, err, answers.ErrSessionLocked)

	again, _, err := c.Submit(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, res.Score, again.Score)
	assert.Equal(t, 1, gw.calls())
}

func TestController_AutoSubmitOnExpiry(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModeExam, 60)}

	eb := event.NewBus()
	var (
		mu        sync.Mutex
		submitted []domain.EventSubmitted
	)
	eb.Subscribe(domain.EventNameSubmitted, func(_ context.Context, e event.Event) error {
		mu.Lock()
		submitted = append(submitted, e.(domain.EventSubmitted))
		mu.Unlock()
		return nil
	})

	c, mt := startController(t, gw, func(cfg *session.Config) {
		cfg.EventBus = eb
	})

	for i := 0; i < 60; i++ {
		mt.ch <- time.Now()
	}

	require.Eventually(t, func() bool {
		return c.Status() == domain.StatusCompleted
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, gw.calls())
	assert.Empty(t, gw.lastPayload)

	res, err := c.Result()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, 0, res.Correct)
	assert.Equal(t, 2, res.Incorrect)
	assert.Equal(t, 1, res.Pending)

	eb.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, submitted, 1)
	assert.True(t, submitted[0].Auto)
}

func TestController_AtMostOnceSubmission(t *testing.T) {
	gw := &fakeGateway{
		template:    quizTemplate(domain.ModeExam, 1),
		submitDelay: 10 * time.Millisecond,
	}
	c, mt := startController(t, gw)

	// Race manual submits against the expiring timer.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Submit(context.Background(), true)
			if err != nil {
				require.ErrorIs(t, err, session.ErrSubmitInFlight)
			}
		}()
	}

	select {
	case mt.ch <- time.Now():
	default:
		// Manual submit already cancelled the countdown.
	}

	wg.Wait()
	require.Eventually(t, func() bool {
		return c.Status() == domain.StatusCompleted
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, gw.calls(), "submit must be issued exactly once")
}

func TestController_PracticeCheckAnswer(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModePractice, 0)}
	c, _ := startController(t, gw)
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"B"}}))

	g, err := c.CheckAnswer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictIncorrect, g.Verdict)
	assert.Equal(t, 0, g.Awarded)

	// The checked question is locked, the rest of the session stays
	// editable.
	err = c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"A"}})
	require.ErrorIs(t, err, answers.ErrQuestionLocked)
	require.NoError(t, c.ToggleOption(ctx, 2, "A"))

	rec, ok := c.Answers()[1]
	require.True(t, ok)
	assert.Equal(t, []string{"B"}, rec.Selected)
}

func TestController_CheckAnswerExamMode(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModeExam, 60)}
	c, _ := startController(t, gw)

	_, err := c.CheckAnswer(context.Background(), 1)
	require.ErrorIs(t, err, session.ErrFeedbackUnavailable)
}

func TestController_PracticeSubmitFailureRevertsToActive(t *testing.T) {
	gw := &fakeGateway{
		template:   quizTemplate(domain.ModePractice, 0),
		submitErrs: []error{stderrors.New("backend down")},
	}
	c, _ := startController(t, gw)
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"A"}}))

	_, _, err := c.Submit(ctx, true)
	require.Error(t, err)
	assert.Equal(t, domain.StatusActive, c.Status())
	assert.Equal(t, 1, gw.calls())

	// Editable again, and a second manual submit goes through.
	require.NoError(t, c.SetAnswer(ctx, 3, domain.AnswerRecord{Text: "essay"}))

	res, _, err := c.Submit(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusCompleted, c.Status())
	assert.Equal(t, 2, gw.calls())
}

func TestController_ExamSubmitRetries(t *testing.T) {
	gw := &fakeGateway{
		template:   quizTemplate(domain.ModeExam, 60),
		submitErrs: []error{stderrors.New("timeout"), stderrors.New("timeout")},
	}
	c, _ := startController(t, gw, func(cfg *session.Config) {
		cfg.SubmitRetries = 2
	})

	res, _, err := c.Submit(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusCompleted, c.Status())
	assert.Equal(t, 3, gw.calls())
}

func TestController_ExamSubmitPending(t *testing.T) {
	gw := &fakeGateway{
		template:   quizTemplate(domain.ModeExam, 60),
		submitErrs: []error{stderrors.New("down"), stderrors.New("down")},
	}
	c, _ := startController(t, gw, func(cfg *session.Config) {
		cfg.SubmitRetries = 1
	})
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"A"}}))

	_, _, err := c.Submit(ctx, true)
	require.ErrorIs(t, err, session.ErrSubmissionPending)

	// Never back to ACTIVE after a failed exam submit; answers are kept.
	assert.Equal(t, domain.StatusSubmitting, c.Status())
	assert.True(t, c.SubmitPending())
	require.ErrorIs(t, c.SetAnswer(ctx, 2, domain.AnswerRecord{Selected: []string{"A"}}), answers.ErrSessionLocked)

	// Re-driving the submission with the same session id succeeds once the
	// backend recovers.
	res, _, err := c.Submit(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 10, res.Score)
	assert.Equal(t, domain.StatusCompleted, c.Status())
}

func TestController_PracticeSavesBestEffort(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModePractice, 0)}
	c, _ := startController(t, gw)

	require.NoError(t, c.SetAnswer(context.Background(), 1, domain.AnswerRecord{Selected: []string{"A"}}))

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []string{"A"}, gw.saved[1].Selected)
}

func TestController_ValidatesAnswers(t *testing.T) {
	gw := &fakeGateway{template: quizTemplate(domain.ModeExam, 60)}
	c, _ := startController(t, gw)
	ctx := context.Background()

	// Unknown question.
	require.Error(t, c.SetAnswer(ctx, 99, domain.AnswerRecord{Selected: []string{"A"}}))
	// Unknown option key.
	require.Error(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"Z"}}))
	// Multiple keys on a single-choice question.
	require.Error(t, c.SetAnswer(ctx, 1, domain.AnswerRecord{Selected: []string{"A", "B"}}))
	// Toggle on a non-multiple-choice question.
	require.Error(t, c.ToggleOption(ctx, 1, "A"))
	// Free text on a choice question.
	require.Error(t, c.SetAnswer(ctx, 2, domain.AnswerRecord{Text: "nope"}))
}
