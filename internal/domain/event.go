package domain

const (
	EventNameSessionStarted  = "session.started"
	EventNameQuestionChecked = "session.question_checked"
	EventNameSessionExpired  = "session.expired"
	EventNameSubmitted       = "session.submitted"
	EventNameSubmitFailed    = "session.submit_failed"
)

type EventSessionStarted struct {
	SessionID string
	Username  string
	Mode      Mode
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

// EventQuestionChecked fires when a PRACTICE learner locks in a single
// question for immediate feedback.
type EventQuestionChecked struct {
	SessionID string
	Username  string
	Grade     QuestionGrade
}

func (EventQuestionChecked) Name() string { return EventNameQuestionChecked }

// EventSessionExpired fires when an exam countdown reaches zero, before the
// auto-submission is attempted.
type EventSessionExpired struct {
	SessionID string
	Username  string
}

func (EventSessionExpired) Name() string { return EventNameSessionExpired }

type EventSubmitted struct {
	SessionID string
	Username  string
	Auto      bool // true when triggered by timer expiry
	Result    Result
}

func (EventSubmitted) Name() string { return EventNameSubmitted }

type EventSubmitFailed struct {
	SessionID string
	Username  string
	Attempts  int
	Reason    string
}

func (EventSubmitFailed) Name() string { return EventNameSubmitFailed }
