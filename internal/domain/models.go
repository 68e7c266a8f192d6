package domain

import (
	"strings"
	"time"
)

// QuestionKind distinguishes the two question shapes a test can carry.
type QuestionKind string

const (
	SingleChoice QuestionKind = "MCQ"
	Coding       QuestionKind = "CODING"
)

// UnmarshalText treats anything that is not CODING as a single choice question.
func (k *QuestionKind) UnmarshalText(b []byte) error {
	if strings.EqualFold(string(b), string(Coding)) {
		*k = Coding
	} else {
		*k = SingleChoice
	}
	return nil
}

// Option is one selectable answer of a single choice question.
type Option struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// TestCase is a judge case attached to a coding question.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsPublic       bool   `json:"isPublic"`
	Explanation    string `json:"explanation,omitempty"`
}

// Question models either a single choice or a coding question.
type Question struct {
	ID    int64        `json:"id" validate:"required"`
	Kind  QuestionKind `json:"type"`
	Text  string       `json:"text"`
	Marks int          `json:"marks" validate:"min=0"`

	Options []Option `json:"Options,omitempty"`

	Description string     `json:"description,omitempty"`
	Constraints string     `json:"constraints,omitempty"`
	StarterCode string     `json:"codeTemplate,omitempty"`
	Language    string     `json:"language,omitempty"`
	TestCases   []TestCase `json:"TestCases,omitempty"`
}

// PublicTestCases returns the sample cases students are allowed to see.
func (q Question) PublicTestCases() []TestCase {
	var out []TestCase
	for _, tc := range q.TestCases {
		if tc.IsPublic {
			out = append(out, tc)
		}
	}
	return out
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID int64) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// DefaultLanguage is the editor language when neither the question nor the student picked one.
const DefaultLanguage = "javascript"

// InitialCodingAnswer is the editor state a coding question opens with.
func (q Question) InitialCodingAnswer() CodingAnswer {
	lang := q.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	return CodingAnswer{Code: q.StarterCode, Language: lang}
}

// TestDefinition is the test content as served by the catalog.
type TestDefinition struct {
	ID               int64      `json:"id" validate:"required"`
	Title            string     `json:"title" validate:"required"`
	Description      string     `json:"description"`
	TimeLimitMinutes int        `json:"timeLimit" validate:"min=1"`
	TotalMarks       int        `json:"totalMarks" validate:"min=0"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Questions        []Question `json:"Questions" validate:"dive"`
}

// Clone returns a deep copy so an attempt can reorder questions without touching the source.
func (t TestDefinition) Clone() TestDefinition {
	out := t
	if t.StartTime != nil {
		st := *t.StartTime
		out.StartTime = &st
	}
	if t.EndTime != nil {
		et := *t.EndTime
		out.EndTime = &et
	}
	out.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		cp := q
		cp.Options = append([]Option(nil), q.Options...)
		cp.TestCases = append([]TestCase(nil), q.TestCases...)
		out.Questions[i] = cp
	}
	return out
}

// Question looks up a question by ID.
func (t TestDefinition) Question(id int64) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// AttemptHandle identifies a started attempt on the backend.
type AttemptHandle struct {
	ID        int64     `json:"id"`
	TestID    int64     `json:"testId"`
	StartedAt time.Time `json:"startedAt"`
}

// IntegrityKind names a client observed signal worth reporting.
type IntegrityKind string

const (
	IntegrityTabHidden      IntegrityKind = "tab-hidden"
	IntegrityFullscreenExit IntegrityKind = "fullscreen-exit"
)

// IntegrityEvent is posted once per occurrence and never blocks the attempt.
type IntegrityEvent struct {
	Kind      IntegrityKind `json:"kind"`
	AttemptID int64         `json:"attemptId"`
	At        time.Time     `json:"at"`
}

// QuestionResult is the per question review returned after submission.
type QuestionResult struct {
	QuestionID       int64    `json:"questionId"`
	QuestionText     string   `json:"questionText"`
	IsCorrect        bool     `json:"isCorrect"`
	SelectedOptionID *int64   `json:"selectedOptionId"`
	CorrectOptionID  *int64   `json:"correctOptionId"`
	Options          []Option `json:"options"`
	Passed           *bool    `json:"passed,omitempty"`
}

// AttemptResult summarizes a graded attempt.
type AttemptResult struct {
	CorrectAnswers   int              `json:"correctAnswers"`
	IncorrectAnswers int              `json:"incorrectAnswers"`
	TabSwitchCount   int              `json:"tabSwitchCount"`
	QuestionResults  []QuestionResult `json:"questionResults"`
}
