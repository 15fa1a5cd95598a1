package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JohnnyZhao2/LMS-sub002/internal/domain"
	"github.com/JohnnyZhao2/LMS-sub002/internal/errors"
	"github.com/JohnnyZhao2/LMS-sub002/internal/session"
)

type (
	sessionJSON struct {
		SessionID        string         `json:"session_id"`
		Status           string         `json:"status"`
		Mode             string         `json:"mode"`
		TotalScore       int            `json:"total_score"`
		RemainingSeconds int            `json:"remaining_seconds,omitempty"`
		Band             string         `json:"band,omitempty"`
		Answered         int            `json:"answered"`
		Unanswered       []int          `json:"unanswered"`
		Questions        []questionJSON `json:"questions"`
	}

	questionJSON struct {
		QuestionID int64        `json:"question_id"`
		Order      int          `json:"order"`
		Score      int          `json:"score"`
		Type       string       `json:"type"`
		Content    string       `json:"content"`
		Options    []optionJSON `json:"options,omitempty"`
		Answer     *answerJSON  `json:"answer,omitempty"`
		Locked     bool         `json:"locked,omitempty"`
	}

	optionJSON struct {
		Key     string `json:"key"`
		Content string `json:"content"`
	}

	answerJSON struct {
		Selected []string `json:"selected,omitempty"`
		Text     string   `json:"text,omitempty"`
	}

	feedbackView struct {
		QuestionID  int64    `json:"question_id"`
		Verdict     string   `json:"verdict"`
		Awarded     int      `json:"awarded"`
		CorrectKeys []string `json:"correct_keys,omitempty"`
		Explanation string   `json:"explanation,omitempty"`
	}

	resultJSON struct {
		SessionID  string      `json:"session_id"`
		Score      int         `json:"score"`
		TotalScore int         `json:"total_score"`
		Percentage string      `json:"percentage"`
		Correct    int         `json:"correct"`
		Incorrect  int         `json:"incorrect"`
		Pending    int         `json:"pending"`
		Grades     []gradeJSON `json:"grades"`
	}

	gradeJSON struct {
		QuestionID int64  `json:"question_id"`
		Awarded    int    `json:"awarded"`
		Verdict    string `json:"verdict"`
	}
)

// sessionView renders a controller snapshot without correct keys or
// explanations; those are only revealed by practice checks and results.
func sessionView(ctrl *session.Controller) sessionJSON {
	ss := ctrl.Session()
	answered, unanswered := ctrl.Progress()
	remaining, band := ctrl.Remaining()

	v := sessionJSON{
		SessionID:  ss.SessionID,
		Status:     string(ss.Status),
		Mode:       string(ss.Mode),
		TotalScore: ss.TotalScore,
		Answered:   answered,
		Unanswered: orders(ctrl, unanswered),
		Questions:  make([]questionJSON, 0, len(ss.Questions)),
	}
	if ss.Mode == domain.ModeExam {
		v.RemainingSeconds = remaining
		v.Band = string(band)
	}

	for _, q := range ss.Questions {
		qv := questionJSON{
			QuestionID: q.QuestionID,
			Order:      q.Order,
			Score:      q.Score,
			Type:       string(q.Type),
			Content:    q.Content,
		}
		for _, o := range q.Options {
			qv.Options = append(qv.Options, optionJSON{Key: o.Key, Content: o.Content})
		}
		if rec, ok := recOf(ctrl, q.QuestionID); ok {
			qv.Answer = &answerJSON{Selected: rec.Selected, Text: rec.Text}
		}
		qv.Locked = ctrl.QuestionLocked(q.QuestionID)
		v.Questions = append(v.Questions, qv)
	}
	return v
}

func recOf(ctrl *session.Controller, questionID int64) (domain.AnswerRecord, bool) {
	recs := ctrl.Answers()
	rec, ok := recs[questionID]
	return rec, ok
}

func progressView(ctrl *session.Controller, answered int, unanswered []int) gin.H {
	return gin.H{
		"answered":   answered,
		"unanswered": orders(ctrl, unanswered),
	}
}

// orders maps 0-based cursor positions to the 1-based display orders the UI
// shows in pre-submit warnings.
func orders(ctrl *session.Controller, indices []int) []int {
	ss := ctrl.Session()
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(ss.Questions) {
			out = append(out, ss.Questions[i].Order)
		}
	}
	return out
}

func resultView(res *domain.Result) resultJSON {
	v := resultJSON{
		SessionID:  res.SessionID,
		Score:      res.Score,
		TotalScore: res.TotalScore,
		Percentage: res.Percentage.StringFixed(2),
		Correct:    res.Correct,
		Incorrect:  res.Incorrect,
		Pending:    res.Pending,
		Grades:     make([]gradeJSON, 0, len(res.Grades)),
	}
	for _, g := range res.Grades {
		v.Grades = append(v.Grades, gradeJSON{
			QuestionID: g.QuestionID,
			Awarded:    g.Awarded,
			Verdict:    string(g.Verdict),
		})
	}
	return v
}

func questionID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("qid"), 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid question id: %s", c.Param("qid")))
	}
	return id, nil
}
