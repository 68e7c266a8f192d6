package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

// Presenter prints controller state to a terminal. It redraws the current
// question when the cursor or state changes and otherwise only reports the
// clock at coarse intervals.
type Presenter struct {
	mu   sync.Mutex
	out  io.Writer
	last app.Snapshot
	seen bool

	completed chan struct{}
	doneOnce  sync.Once
}

func NewPresenter(out io.Writer) *Presenter {
	return &Presenter{out: out, completed: make(chan struct{})}
}

// Completed is closed once a completed attempt has been rendered.
func (p *Presenter) Completed() <-chan struct{} { return p.completed }

func (p *Presenter) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *Presenter) Render(s app.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, seen := p.last, p.seen
	p.last, p.seen = s, true

	switch {
	case !seen || prev.State != s.State:
		p.renderStateLocked(s)
	case s.State == app.InProgress && prev.Cursor != s.Cursor:
		p.renderQuestionLocked(s)
	case s.State == app.InProgress && prev.TimeRemaining != s.TimeRemaining && clockWorthPrinting(s):
		fmt.Fprintf(p.out, "[%s remaining]\n", s.Clock)
	}
}

func (p *Presenter) Alert(a app.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n!! %s\n", a.Message)
	switch {
	case a.CanReacquire:
		fmt.Fprintln(p.out, "   Type 'fs' to return to fullscreen, 'ack' to dismiss.")
	case a.Acknowledgeable:
		fmt.Fprintln(p.out, "   Type 'ack' to dismiss.")
	}
}

// Current returns the last rendered snapshot.
func (p *Presenter) Current() app.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func clockWorthPrinting(s app.Snapshot) bool {
	if s.LowTime {
		return s.TimeRemaining%10 == 0
	}
	return s.TimeRemaining%300 == 0
}

func (p *Presenter) renderStateLocked(s app.Snapshot) {
	switch s.State {
	case app.NotStarted:
		fmt.Fprintf(p.out, "\n%s\n%s\n", s.Title, strings.Repeat("=", len(s.Title)))
		if s.Description != "" {
			fmt.Fprintln(p.out, s.Description)
		}
		fmt.Fprintf(p.out, "Duration: %d minutes  Total marks: %d  Questions: %d\n", s.TimeLimitMinutes, s.TotalMarks, s.QuestionCount)
		fmt.Fprintln(p.out, "Type 'start' to begin, 'help' for commands.")
	case app.InProgress:
		p.renderQuestionLocked(s)
	case app.Submitting:
		fmt.Fprintln(p.out, "Submitting...")
	case app.Completed:
		p.renderResultLocked(s)
		p.doneOnce.Do(func() { close(p.completed) })
	}
}

func (p *Presenter) renderQuestionLocked(s app.Snapshot) {
	q, ok := s.Current()
	if !ok {
		return
	}
	fmt.Fprintf(p.out, "\n--- Question %d of %d  [%s]  answered %d/%d ---\n", s.Cursor+1, len(s.Questions), s.Clock, s.AnsweredCount, len(s.Questions))
	fmt.Fprintf(p.out, "%s  (%d marks)\n", q.Text, q.Marks)

	switch q.Kind {
	case domain.SingleChoice:
		var selected int64 = -1
		if a, ok := s.Answers[q.ID].(domain.SingleChoiceAnswer); ok && a.SelectedOptionID != nil {
			selected = *a.SelectedOptionID
		}
		for i, opt := range q.Options {
			mark := " "
			if opt.ID == selected {
				mark = "*"
			}
			fmt.Fprintf(p.out, " %s %d) %s\n", mark, i+1, opt.Text)
		}
	case domain.Coding:
		if q.Description != "" {
			fmt.Fprintln(p.out, q.Description)
		}
		if q.Constraints != "" {
			fmt.Fprintf(p.out, "Constraints: %s\n", q.Constraints)
		}
		for i, tc := range q.PublicTestCases() {
			fmt.Fprintf(p.out, "Example %d\n  input:    %s\n  expected: %s\n", i+1, tc.Input, tc.ExpectedOutput)
		}
		a, ok := s.Answers[q.ID].(domain.CodingAnswer)
		if !ok {
			a = q.InitialCodingAnswer()
		}
		status := "not run"
		if a.Executed {
			status = "run"
		}
		fmt.Fprintf(p.out, "Language: %s  Code: %d lines (%s)\n", a.Language, strings.Count(a.Code, "\n")+1, status)
	}
	if len(s.Unverified) > 0 {
		fmt.Fprintf(p.out, "Run your code for %d question(s) to enable submission.\n", len(s.Unverified))
	}
}

func (p *Presenter) renderResultLocked(s app.Snapshot) {
	if s.Result == nil {
		return
	}
	r := s.Result
	fmt.Fprintf(p.out, "\nTest submitted.\nScore: %d%%  Correct: %d  Incorrect: %d\n", s.ScorePercentage, r.CorrectAnswers, r.IncorrectAnswers)
	if r.TabSwitchCount > 0 {
		fmt.Fprintf(p.out, "Tab switches recorded: %d\n", r.TabSwitchCount)
	}
	for i, qr := range r.QuestionResults {
		verdict := "incorrect"
		if qr.IsCorrect {
			verdict = "correct"
		}
		fmt.Fprintf(p.out, " %2d. %s: %s\n", i+1, qr.QuestionText, verdict)
	}
}
