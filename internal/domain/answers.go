package domain

import (
	"fmt"
	"math"
	"strings"
)

// AnswerRecord is the answer a student holds for one question.
// It is either a SingleChoiceAnswer or a CodingAnswer.
type AnswerRecord interface {
	Kind() QuestionKind
	Answered() bool
	wire(questionID int64) (AnswerWireRecord, bool)
}

// SingleChoiceAnswer holds the selected option; nil means cleared.
type SingleChoiceAnswer struct {
	SelectedOptionID *int64 `json:"selectedOptionId"`
}

// Choose builds a single choice answer for optionID.
func Choose(optionID int64) SingleChoiceAnswer {
	return SingleChoiceAnswer{SelectedOptionID: &optionID}
}

func (SingleChoiceAnswer) Kind() QuestionKind { return SingleChoice }

func (a SingleChoiceAnswer) Answered() bool { return a.SelectedOptionID != nil }

func (a SingleChoiceAnswer) wire(questionID int64) (AnswerWireRecord, bool) {
	if a.SelectedOptionID == nil {
		return AnswerWireRecord{}, false
	}
	id := *a.SelectedOptionID
	return AnswerWireRecord{QuestionID: questionID, SelectedOptionID: &id}, true
}

// CodingAnswer is the editor state of a coding question. Executed is the trust
// flag: the current Code has been run against the judge since its last edit.
type CodingAnswer struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Executed bool   `json:"executed"`
}

func (CodingAnswer) Kind() QuestionKind { return Coding }

func (a CodingAnswer) Answered() bool { return strings.TrimSpace(a.Code) != "" }

func (a CodingAnswer) wire(questionID int64) (AnswerWireRecord, bool) {
	code, lang := a.Code, a.Language
	return AnswerWireRecord{QuestionID: questionID, AnswerText: &code, Language: &lang}, true
}

// SameSource reports whether the answer holds exactly this code and language.
func (a CodingAnswer) SameSource(code, language string) bool {
	return a.Code == code && a.Language == language
}

// Untrusted reports whether the answer blocks a manual submission:
// meaningful code that has not been run since its last edit.
func (a CodingAnswer) Untrusted(threshold int) bool {
	return !a.Executed && len(strings.TrimSpace(a.Code)) > threshold
}

// AnswerWireRecord is the submission payload entry expected by the attempt service.
type AnswerWireRecord struct {
	QuestionID       int64   `json:"questionId"`
	SelectedOptionID *int64  `json:"selectedOptionId,omitempty"`
	AnswerText       *string `json:"answerText,omitempty"`
	Language         *string `json:"language,omitempty"`
}

// WireRecord converts an answer to its submission form. Cleared single choice
// answers produce no record.
func WireRecord(questionID int64, a AnswerRecord) (AnswerWireRecord, bool) {
	if a == nil {
		return AnswerWireRecord{}, false
	}
	return a.wire(questionID)
}

// ScorePercentage is the displayed score: correct answers over question count,
// independent of per-question marks.
func ScorePercentage(correct, totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(totalQuestions) * 100))
}

// FormatClock renders whole seconds as M:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// StarterTemplate is the editor content loaded when the student switches language.
func StarterTemplate(language string) string {
	switch language {
	case "java":
		return "import java.util.*;\nimport java.io.*;\n\npublic class Main {\n    public static void main(String[] args) {\n        // Your code here\n        // Use System.out.println() for output\n    }\n}"
	case "python":
		return "import sys\n\n# Read input from stdin\ninput_data = sys.stdin.read().split()\n\n# Your code here\n# print(result)"
	case "javascript":
		return "const fs = require('fs');\nconst input = fs.readFileSync(0, 'utf-8').trim().split('\\n');\n\n// Your code here\n// console.log(result);"
	default:
		return ""
	}
}
