package terminal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

const solution = "import sys\nprint(sys.stdin.read())"

type stubBackend struct {
	mu      sync.Mutex
	key     map[int64]int64
	submits [][]domain.AnswerWireRecord
	judged  []domain.JudgeRequest
}

func (b *stubBackend) FetchTestDefinition(_ context.Context, testID int64) (domain.TestDefinition, error) {
	if testID != 5 {
		return domain.TestDefinition{}, &domain.APIError{Status: 404, Message: "Test not found"}
	}
	return domain.TestDefinition{
		ID:               5,
		Title:            "Aptitude",
		TimeLimitMinutes: 20,
		Questions: []domain.Question{
			{ID: 1, Kind: domain.SingleChoice, Text: "2 + 2", Options: []domain.Option{{ID: 10, Text: "3"}, {ID: 11, Text: "4"}}, Marks: 1},
			{ID: 2, Kind: domain.SingleChoice, Text: "3 * 3", Options: []domain.Option{{ID: 20, Text: "6"}, {ID: 21, Text: "9"}}, Marks: 1},
			{ID: 3, Kind: domain.Coding, Text: "Echo", Language: "python", Marks: 5},
		},
	}, nil
}

func (b *stubBackend) StartAttempt(_ context.Context, testID int64) (domain.AttemptHandle, error) {
	return domain.AttemptHandle{ID: 42, TestID: testID}, nil
}

func (b *stubBackend) SubmitAttempt(_ context.Context, _ int64, answers []domain.AnswerWireRecord) (domain.AttemptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, answers)
	correct := 0
	for _, a := range answers {
		if a.SelectedOptionID != nil && b.key[a.QuestionID] == *a.SelectedOptionID {
			correct++
		}
	}
	return domain.AttemptResult{CorrectAnswers: correct, IncorrectAnswers: len(answers) - correct}, nil
}

func (b *stubBackend) RecordIntegrityEvent(context.Context, domain.IntegrityEvent) error { return nil }

func (b *stubBackend) Judge(_ context.Context, req domain.JudgeRequest) (domain.JudgeReport, error) {
	b.mu.Lock()
	b.judged = append(b.judged, req)
	b.mu.Unlock()
	return domain.JudgeReport{Results: []domain.JudgeCaseResult{
		{Input: "hi", Expected: "hi", Actual: "hi", Passed: true, IsPublic: true},
		{Passed: false},
	}}, nil
}

func (b *stubBackend) Run(_ context.Context, req domain.RunRequest) (domain.RunOutput, error) {
	return domain.RunOutput{Output: "echo:" + req.Input, Success: true}, nil
}

func newTestRunner(t *testing.T, script string) (*Runner, *stubBackend, *bytes.Buffer) {
	t.Helper()
	backend := &stubBackend{key: map[int64]int64{1: 11, 2: 21}}
	out := &bytes.Buffer{}
	presenter := NewPresenter(out)
	screen := NewScreen(out, -1)
	ctrl := app.NewController(app.Deps{
		Catalog:   backend,
		Attempts:  backend,
		Judge:     backend,
		Presenter: presenter,
		Screen:    screen,
	}, app.Options{
		ExternalTicks: true,
		Shuffle:       func(int, func(int, int)) {},
	})
	if err := ctrl.LoadDefinition(context.Background(), 5); err != nil {
		t.Fatalf("load: %v", err)
	}
	r := NewRunner(ctrl, presenter, screen, strings.NewReader(script), zerolog.Nop())
	r.readFile = func(name string) ([]byte, error) {
		switch name {
		case "solution.py":
			return []byte(solution), nil
		case "input.txt":
			return []byte("hello"), nil
		}
		return nil, os.ErrNotExist
	}
	return r, backend, out
}

func TestRunnerCompletesAttempt(t *testing.T) {
	script := strings.Join([]string{
		"help",
		"start",
		"a 2",
		"n",
		"a 1",
		"n",
		"code solution.py",
		"submit",
		"try input.txt",
		"run",
		"submit",
	}, "\n")
	r, backend, out := newTestRunner(t, script)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Aptitude",
		"Commands:",
		"Question 1 of 3",
		"Selected option 2.",
		"unverified code",
		"Question 3 still needs a run.",
		"echo:hello",
		"Passed 1 of 2.",
		"Score: 33%",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(backend.submits))
	}
	if len(backend.judged) != 1 || backend.judged[0].Code != solution || backend.judged[0].Language != "python" {
		t.Fatalf("unexpected judge requests %+v", backend.judged)
	}
}

func TestRunnerQuitAbandons(t *testing.T) {
	r, backend, out := newTestRunner(t, "start\na 1\nq\nsubmit\n")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Attempt abandoned.") {
		t.Fatalf("expected abandon message, got:\n%s", out.String())
	}
	if len(backend.submits) != 0 {
		t.Fatalf("abandoned attempt was submitted")
	}
}

func TestRunnerReportsBadCommands(t *testing.T) {
	r, _, out := newTestRunner(t, "a 1\nstart\nfly\na 7\ng x\ncode missing.py\nq\n")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		domain.ErrInvalidState.Error(),
		`unknown command "fly"`,
		"choose an option between 1 and 2",
		"file does not exist",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestScreenRequiresTerminal(t *testing.T) {
	s := NewScreen(&bytes.Buffer{}, -1)
	if err := s.EnterFullscreen(context.Background()); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if s.Active() {
		t.Fatalf("screen should not be active")
	}
	if err := s.ExitFullscreen(context.Background()); err != nil {
		t.Fatalf("exit on inactive screen: %v", err)
	}
}
