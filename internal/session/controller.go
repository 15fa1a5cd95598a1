package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JohnnyZhao2/LMS-sub002/internal/answers"
	"github.com/JohnnyZhao2/LMS-sub002/internal/countdown"
	"github.com/JohnnyZhao2/LMS-sub002/internal/cursor"
	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
	"github.com/JohnnyZhao2/LMS-sub002/internal/event"
	"github.com/JohnnyZhao2/LMS-sub002/internal/grading"
)

var (
	// ErrInitFailed marks a controller whose gateway start call failed.
	// Terminal for that controller; the caller may construct a fresh one.
	ErrInitFailed = errors.New(errors.CodeUnavailable,
		errors.WithMessagef("session initialization failed"))

	// ErrSubmitInFlight is observed by the loser of the race between manual
	// submit and timer expiry.
	ErrSubmitInFlight = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("submission already in progress"))

	// ErrSubmissionPending marks an exam whose submit attempts were all
	// rejected. The answers are kept; the session must not be discarded.
	ErrSubmissionPending = errors.New(errors.CodeUnavailable,
		errors.WithMessagef("submission pending, keep the session open and retry"))

	// ErrFeedbackUnavailable rejects per-question answer checks outside
	// practice mode.
	ErrFeedbackUnavailable = errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("answer feedback is only available in practice mode"))
)

const (
	defaultSubmitRetries = 3
	defaultRetryBackoff  = 2 * time.Second
)

// Config wires a controller's collaborators.
type Config struct {
	Gateway       Gateway
	EventBus      *event.Bus
	NewTickerFunc countdown.NewTickerFunc // nil for the real 1s ticker
	SubmitRetries int                     // extra submit attempts after the first, EXAM only
	RetryBackoff  time.Duration
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = defaultSubmitRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Controller owns one session for its whole lifetime and serializes every
// transition out of ACTIVE. The single submitGate check-and-set decides the
// race between manual submit and timer expiry: whichever path flips it first
// proceeds, the other becomes a no-op. At most one submission request is ever
// issued per session.
type Controller struct {
	cfg    Config
	grader grading.Engine

	mu        sync.Mutex
	session   *domain.Session
	questions map[int64]domain.SessionQuestion
	store     *answers.Store
	nav       *cursor.Cursor
	timer     *countdown.Timer

	submitGate atomic.Bool
	result     *domain.Result
	submitErr  error
}

// Start asks the gateway for a hydrated session and brings the controller to
// ACTIVE. On gateway failure the error wraps ErrInitFailed and no controller
// is returned; the controller itself never retries initialization.
func Start(ctx context.Context, cfg Config, req StartRequest) (*Controller, error) {
	cfg = cfg.withDefaults()

	ss, err := cfg.Gateway.StartSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInitFailed, err)
	}
	if len(ss.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", ErrInitFailed)
	}

	c := &Controller{
		cfg:       cfg,
		session:   ss,
		questions: make(map[int64]domain.SessionQuestion, len(ss.Questions)),
		store:     answers.NewStore(),
	}
	for _, q := range ss.Questions {
		c.questions[q.QuestionID] = q
	}
	c.nav = cursor.New(ss.Questions, c.store)
	ss.Status = domain.StatusActive

	if ss.Mode == domain.ModeExam {
		var opts []countdown.TimerOption
		if cfg.NewTickerFunc != nil {
			opts = append(opts, countdown.WithTickerFunc(cfg.NewTickerFunc))
		}
		c.timer = countdown.New(ss.DurationSeconds, opts...)
		if err := c.timer.Start(nil, c.onExpire); err != nil {
			return nil, fmt.Errorf("%w: start countdown: %s", ErrInitFailed, err)
		}
	}

	c.publish(ctx, domain.EventSessionStarted{
		SessionID: ss.SessionID,
		Username:  ss.Username,
		Mode:      ss.Mode,
	})

	return c, nil
}

// Session returns a copy of the owned session.
func (c *Controller) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return *c.session
}

func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.Status
}

// Remaining returns the seconds left and the display band. Zero values for
// practice sessions, which have no countdown.
func (c *Controller) Remaining() (int, countdown.Band) {
	if c.timer == nil {
		return 0, countdown.BandNone
	}
	return c.timer.Remaining(), c.timer.CurrentBand()
}

// SetAnswer replaces the answer for one question. Only while ACTIVE; locked
// questions and frozen sessions are rejected by the store.
func (c *Controller) SetAnswer(ctx context.Context, questionID int64, rec domain.AnswerRecord) error {
	c.mu.Lock()
	if c.session.Status != domain.StatusActive {
		c.mu.Unlock()
		return answers.ErrSessionLocked
	}
	q, ok := c.questions[questionID]
	if !ok {
		c.mu.Unlock()
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %d is not part of this session", questionID))
	}
	if err := validateRecord(q, rec); err != nil {
		c.mu.Unlock()
		return err
	}
	err := c.store.Set(questionID, rec)
	mode, sid := c.session.Mode, c.session.SessionID
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if mode == domain.ModePractice {
		c.saveBestEffort(ctx, sid, questionID, rec)
	}
	return nil
}

// ToggleOption flips one option in a MULTIPLE_CHOICE selection set.
func (c *Controller) ToggleOption(ctx context.Context, questionID int64, key string) error {
	c.mu.Lock()
	if c.session.Status != domain.StatusActive {
		c.mu.Unlock()
		return answers.ErrSessionLocked
	}
	q, ok := c.questions[questionID]
	if !ok {
		c.mu.Unlock()
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %d is not part of this session", questionID))
	}
	if q.Type != domain.QuestionTypeMultipleChoice {
		c.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("toggle only applies to MULTIPLE_CHOICE, question %d is %s", questionID, q.Type))
	}
	if !hasOption(q, key) {
		c.mu.Unlock()
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %d has no option %q", questionID, key))
	}
	err := c.store.Toggle(questionID, key)
	mode, sid := c.session.Mode, c.session.SessionID
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if mode == domain.ModePractice {
		if rec, ok := c.store.Get(questionID); ok {
			c.saveBestEffort(ctx, sid, questionID, rec)
		}
	}
	return nil
}

// CheckAnswer locks one question and grades it immediately. PRACTICE only;
// the lock prevents further edits to that question while the rest of the
// session stays editable.
func (c *Controller) CheckAnswer(ctx context.Context, questionID int64) (domain.QuestionGrade, error) {
	c.mu.Lock()
	if c.session.Mode != domain.ModePractice {
		c.mu.Unlock()
		return domain.QuestionGrade{}, ErrFeedbackUnavailable
	}
	if c.session.Status != domain.StatusActive {
		c.mu.Unlock()
		return domain.QuestionGrade{}, answers.ErrSessionLocked
	}
	q, ok := c.questions[questionID]
	if !ok {
		c.mu.Unlock()
		return domain.QuestionGrade{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question %d is not part of this session", questionID))
	}

	c.store.Lock(questionID)
	rec, _ := c.store.Get(questionID)
	g := c.grader.GradeQuestion(q, rec)
	sid, user := c.session.SessionID, c.session.Username
	c.mu.Unlock()

	c.publish(ctx, domain.EventQuestionChecked{
		SessionID: sid,
		Username:  user,
		Grade:     g,
	})
	return g, nil
}

// Question returns the session question by id.
func (c *Controller) Question(questionID int64) (domain.SessionQuestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.questions[questionID]
	return q, ok
}

// Cursor exposes the navigation cursor for read/seek use.
func (c *Controller) Cursor() *cursor.Cursor {
	return c.nav
}

// Answers returns a copy of the current answer records.
func (c *Controller) Answers() map[int64]domain.AnswerRecord {
	return c.store.Snapshot()
}

// QuestionLocked reports whether a practice check has locked the question.
func (c *Controller) QuestionLocked(questionID int64) bool {
	return c.store.Locked(questionID)
}

// Progress reports how far the learner is: answered count and the 0-based
// positions still unanswered.
func (c *Controller) Progress() (answered int, unanswered []int) {
	return c.nav.AnsweredCount(), c.nav.UnansweredIndices()
}

// Submit requests manual submission. When force is false and unanswered
// questions remain, nothing is submitted and their 0-based positions are
// returned so the caller can confirm; the engine never blocks a forced
// submit on incompleteness.
//
// The returned result is non-nil on success. A session already COMPLETED
// returns the stored result. An exam stuck in ErrSubmissionPending is
// re-driven through the gateway with the same session id.
func (c *Controller) Submit(ctx context.Context, force bool) (*domain.Result, []int, error) {
	c.mu.Lock()
	switch c.session.Status {
	case domain.StatusCompleted:
		res := *c.result
		c.mu.Unlock()
		return &res, nil, nil

	case domain.StatusSubmitting, domain.StatusExpired:
		if c.submitErr == nil {
			c.mu.Unlock()
			return nil, nil, ErrSubmitInFlight
		}
		// Pending exam submission: retry with the same idempotency key.
		c.submitErr = nil
		c.mu.Unlock()
		return c.doSubmit(ctx, true)

	case domain.StatusActive:
		// continue below

	default:
		c.mu.Unlock()
		return nil, nil, answers.ErrSessionLocked
	}

	if !force {
		if unanswered := c.nav.UnansweredIndices(); len(unanswered) > 0 {
			c.mu.Unlock()
			return nil, unanswered, nil
		}
	}

	if !c.submitGate.CompareAndSwap(false, true) {
		// Timer expiry won the race.
		c.mu.Unlock()
		return nil, nil, ErrSubmitInFlight
	}

	c.session.Status = domain.StatusSubmitting
	c.store.Freeze()
	c.mu.Unlock()

	if c.timer != nil {
		c.timer.Cancel()
	}

	return c.doSubmit(ctx, false)
}

// onExpire is the countdown callback. It shares the submitGate with the
// manual path so a manual submit racing the expiry cannot both fire.
func (c *Controller) onExpire() {
	if !c.submitGate.CompareAndSwap(false, true) {
		return
	}

	ctx := context.Background()

	c.mu.Lock()
	c.session.Status = domain.StatusExpired
	c.store.Freeze()
	sid, user := c.session.SessionID, c.session.Username
	c.mu.Unlock()

	slog.InfoContext(ctx, "session: countdown expired, auto-submitting",
		"session", sid,
	)
	c.publish(ctx, domain.EventSessionExpired{SessionID: sid, Username: user})

	c.mu.Lock()
	c.session.Status = domain.StatusSubmitting
	c.mu.Unlock()

	if _, _, err := c.doSubmit(ctx, true); err != nil {
		slog.ErrorContext(ctx, "session: auto-submit failed",
			"session", sid,
			"error", err,
		)
	}
}

// doSubmit issues the gateway call. Exams retry with backoff and never
// return to ACTIVE; practice sessions revert to ACTIVE on failure so the
// learner can retry or keep editing.
func (c *Controller) doSubmit(ctx context.Context, auto bool) (*domain.Result, []int, error) {
	c.mu.Lock()
	sid := c.session.SessionID
	exam := c.session.Mode == domain.ModeExam
	c.mu.Unlock()

	payload := c.store.Snapshot()

	attempts := 1
	if exam {
		attempts += c.cfg.SubmitRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, c.cfg.RetryBackoff*time.Duration(i)); err != nil {
				lastErr = err
				break
			}
			slog.WarnContext(ctx, "session: retrying submission",
				"session", sid,
				"attempt", i+1,
			)
		}

		res, err := c.cfg.Gateway.Submit(ctx, sid, payload)
		if err == nil {
			c.complete(ctx, res, auto)
			return res, nil, nil
		}
		lastErr = err
	}

	if !exam {
		// Recoverable: back to ACTIVE, answers editable again, the gate
		// reopens for the next manual submit.
		c.mu.Lock()
		c.session.Status = domain.StatusActive
		c.store.Unfreeze()
		c.submitGate.Store(false)
		c.mu.Unlock()
		return nil, nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("submission failed, session is editable again"),
			errors.WithCause(lastErr))
	}

	// Post-expiry there is no safe way back to ACTIVE. Keep the answers and
	// surface a persistent pending state.
	c.mu.Lock()
	c.session.Status = domain.StatusSubmitting
	c.submitErr = lastErr
	user := c.session.Username
	c.mu.Unlock()

	c.publish(ctx, domain.EventSubmitFailed{
		SessionID: sid,
		Username:  user,
		Attempts:  attempts,
		Reason:    lastErr.Error(),
	})
	return nil, nil, fmt.Errorf("%w: %s", ErrSubmissionPending, lastErr)
}

func (c *Controller) complete(ctx context.Context, res *domain.Result, auto bool) {
	c.mu.Lock()
	c.session.Status = domain.StatusCompleted
	c.session.SubmittedAt = c.cfg.Now()
	c.result = res
	c.submitErr = nil
	sid, user := c.session.SessionID, c.session.Username
	c.mu.Unlock()

	c.publish(ctx, domain.EventSubmitted{
		SessionID: sid,
		Username:  user,
		Auto:      auto,
		Result:    *res,
	})
}

// Result returns the stored result after COMPLETED.
func (c *Controller) Result() (*domain.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result == nil {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session has not been submitted"))
	}
	res := *c.result
	return &res, nil
}

// SubmitPending reports whether the session is stuck waiting on a failed
// exam submission.
func (c *Controller) SubmitPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.submitErr != nil
}

// Teardown cancels the countdown and freezes the store. Called when the
// owner discards the session.
func (c *Controller) Teardown() {
	if c.timer != nil {
		c.timer.Cancel()
	}
	c.store.Freeze()
}

func (c *Controller) saveBestEffort(ctx context.Context, sid string, questionID int64, rec domain.AnswerRecord) {
	if err := c.cfg.Gateway.SaveAnswer(ctx, sid, questionID, rec); err != nil {
		slog.WarnContext(ctx, "session: best-effort answer save failed",
			"session", sid,
			"question", questionID,
			"error", err,
		)
	}
}

func (c *Controller) publish(ctx context.Context, e event.Event) {
	if c.cfg.EventBus != nil {
		c.cfg.EventBus.Publish(ctx, e)
	}
}

func validateRecord(q domain.SessionQuestion, rec domain.AnswerRecord) error {
	switch q.Type {
	case domain.QuestionTypeShortAnswer:
		if len(rec.Selected) > 0 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d expects free text", q.QuestionID))
		}
	case domain.QuestionTypeSingleChoice, domain.QuestionTypeTrueFalse:
		if rec.Text != "" || len(rec.Selected) > 1 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d expects a single option key", q.QuestionID))
		}
		if len(rec.Selected) == 1 && !hasOption(q, rec.Selected[0]) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d has no option %q", q.QuestionID, rec.Selected[0]))
		}
	case domain.QuestionTypeMultipleChoice:
		if rec.Text != "" {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d expects option keys", q.QuestionID))
		}
		for _, k := range rec.Selected {
			if !hasOption(q, k) {
				return errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("question %d has no option %q", q.QuestionID, k))
			}
		}
	}
	return nil
}

func hasOption(q domain.SessionQuestion, key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
