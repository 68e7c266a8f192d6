package app

import (
	"placement-runner/internal/domain"
)

// State is the lifecycle position of an attempt.
type State int

const (
	NotStarted State = iota
	InProgress
	Submitting
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AlertKind identifies an alert shown to the student.
type AlertKind string

const (
	AlertTabSwitch        AlertKind = "tab-switch"
	AlertFullscreenExit   AlertKind = "fullscreen-exit"
	AlertSubmissionFailed AlertKind = "submission-failed"
)

// Alert is a message for the student. Acknowledgeable alerts stay pending
// until AcknowledgeAlert is called; none of them block answering.
type Alert struct {
	Kind            AlertKind `json:"kind"`
	Message         string    `json:"message"`
	Acknowledgeable bool      `json:"acknowledgeable"`
	CanReacquire    bool      `json:"canReacquire,omitempty"`
}

var (
	tabSwitchAlert = Alert{
		Kind:            AlertTabSwitch,
		Message:         "You switched away from the test window. This action has been recorded and will be reported to your instructor. Please stay on this page until you submit the test.",
		Acknowledgeable: true,
	}
	fullscreenExitAlert = Alert{
		Kind:            AlertFullscreenExit,
		Message:         "You have exited fullscreen mode. This action has been recorded and will be reported to your instructor. Please stay in fullscreen mode until you submit the test.",
		Acknowledgeable: true,
		CanReacquire:    true,
	}
)

// lowTimeSeconds is where the clock is flagged as running out.
const lowTimeSeconds = 60

// Snapshot is a read-only copy of the controller state for presenters.
type Snapshot struct {
	State            State                         `json:"state"`
	TestID           int64                         `json:"testId"`
	Title            string                        `json:"title"`
	Description      string                        `json:"description"`
	TimeLimitMinutes int                           `json:"timeLimit"`
	TotalMarks       int                           `json:"totalMarks"`
	QuestionCount    int                           `json:"questionCount"`
	Questions        []domain.Question             `json:"questions,omitempty"`
	Cursor           int                           `json:"cursor"`
	Attempt          *domain.AttemptHandle         `json:"attempt,omitempty"`
	TimeRemaining    int                           `json:"timeRemaining"`
	Clock            string                        `json:"clock"`
	LowTime          bool                          `json:"lowTime"`
	Expired          bool                          `json:"expired"`
	Answers          map[int64]domain.AnswerRecord `json:"answers"`
	AnsweredCount    int                           `json:"answeredCount"`
	Unverified       []int64                       `json:"unverified"`
	Alerts           []Alert                       `json:"alerts"`
	IntegrityEvents  map[domain.IntegrityKind]int  `json:"integrityEvents"`
	Result           *domain.AttemptResult         `json:"result,omitempty"`
	ScorePercentage  int                           `json:"scorePercentage"`
}

// Current returns the question under the cursor.
func (s Snapshot) Current() (domain.Question, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[s.Cursor], true
}

// CanSubmit mirrors the submit button: in progress and no unverified code.
func (s Snapshot) CanSubmit() bool {
	return s.State == InProgress && (s.Expired || len(s.Unverified) == 0)
}
