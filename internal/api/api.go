// Package api exposes the quiz session engine over HTTP and republishes
// lifecycle events to redis for connected UIs.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
	"github.com/JohnnyZhao2/LMS-sub002/internal/event"
	"github.com/JohnnyZhao2/LMS-sub002/internal/session"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Session      *session.Service
	Redis        Redis
	PubsubPrefix string
	AuthSecret   string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	ss     *session.Service
	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ss:     c.Session,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	v1 := c.Router.Group("/api/v1", authMiddleware(c.AuthSecret))
	v1.POST("/sessions", a.startSession)
	v1.GET("/sessions/:id", a.getSession)
	v1.PUT("/sessions/:id/answers/:qid", a.setAnswer)
	v1.POST("/sessions/:id/answers/:qid/toggle", a.toggleOption)
	v1.POST("/sessions/:id/check/:qid", a.checkAnswer)
	v1.POST("/sessions/:id/submit", a.submit)
	v1.GET("/sessions/:id/result", a.getResult)
	v1.DELETE("/sessions/:id", a.discardSession)

	// Push timer-driven transitions out to the UI.
	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameSubmitted, func(ctx context.Context, e event.Event) error {
			return a.notifySubmitted(ctx, e.(domain.EventSubmitted))
		})
		c.EventBus.Subscribe(domain.EventNameSessionExpired, func(ctx context.Context, e event.Event) error {
			return a.notifyExpired(ctx, e.(domain.EventSessionExpired))
		})
		c.EventBus.Subscribe(domain.EventNameSubmitFailed, func(ctx context.Context, e event.Event) error {
			return a.notifySubmitFailed(ctx, e.(domain.EventSubmitFailed))
		})
	}

	return a
}

type startSessionRequest struct {
	TaskID int64 `json:"task_id" binding:"required"`
	QuizID int64 `json:"quiz_id"`
}

func (a *API) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ctrl, err := a.ss.Start(c.Request.Context(), session.StartRequest{
		Username: username(c),
		TaskID:   req.TaskID,
		QuizID:   req.QuizID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionView(ctrl))
}

func (a *API) getSession(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionView(ctrl))
}

type answerRequest struct {
	Selected []string `json:"selected"`
	Text     string   `json:"text"`
}

func (a *API) setAnswer(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	qid, err := questionID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err = ctrl.SetAnswer(c.Request.Context(), qid, domain.AnswerRecord{
		Selected: req.Selected,
		Text:     req.Text,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	answered, unanswered := ctrl.Progress()
	c.JSON(http.StatusOK, progressView(ctrl, answered, unanswered))
}

type toggleRequest struct {
	Option string `json:"option" binding:"required"`
}

func (a *API) toggleOption(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	qid, err := questionID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := ctrl.ToggleOption(c.Request.Context(), qid, req.Option); err != nil {
		abortWithError(c, err)
		return
	}

	answered, unanswered := ctrl.Progress()
	c.JSON(http.StatusOK, progressView(ctrl, answered, unanswered))
}

func (a *API) checkAnswer(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	qid, err := questionID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	g, err := ctrl.CheckAnswer(c.Request.Context(), qid)
	if err != nil {
		abortWithError(c, err)
		return
	}

	q, _ := ctrl.Question(qid)
	c.JSON(http.StatusOK, feedbackView{
		QuestionID:  g.QuestionID,
		Verdict:     string(g.Verdict),
		Awarded:     g.Awarded,
		CorrectKeys: q.CorrectKeys,
		Explanation: q.Explanation,
	})
}

type submitRequest struct {
	Force bool `json:"force"`
}

func (a *API) submit(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
			return
		}
	}

	res, unanswered, err := ctrl.Submit(c.Request.Context(), req.Force)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if res == nil {
		// Not submitted: the caller decides whether to force past the
		// unanswered questions.
		c.JSON(http.StatusOK, gin.H{
			"submitted":  false,
			"unanswered": orders(ctrl, unanswered),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submitted": true,
		"result":    resultView(res),
	})
}

func (a *API) getResult(c *gin.Context) {
	ctrl, err := a.ss.Get(c.Param("id"), username(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := ctrl.Result()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resultView(res))
}

func (a *API) discardSession(c *gin.Context) {
	if err := a.ss.Discard(c.Param("id"), username(c)); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
