package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

const helpText = `Commands:
  start          begin the attempt
  n | p          next / previous question
  g N            go to question N
  a N            choose option N (a 0 clears)
  code FILE      load your solution for the current coding question
  lang L         switch language (resets the code to the starter template)
  run            run the current coding question against its test cases
  try FILE       run the current code with FILE as stdin
  submit         submit the attempt
  ack            dismiss pending alerts
  fs             return to fullscreen
  q              abandon the attempt and quit
`

// Runner drives a controller from line commands read on a terminal.
type Runner struct {
	ctrl      *app.Controller
	presenter *Presenter
	screen    *Screen
	in        io.Reader
	log       zerolog.Logger

	readFile func(string) ([]byte, error)
}

func NewRunner(ctrl *app.Controller, presenter *Presenter, screen *Screen, in io.Reader, log zerolog.Logger) *Runner {
	return &Runner{
		ctrl:      ctrl,
		presenter: presenter,
		screen:    screen,
		in:        in,
		log:       log.With().Str("component", "terminal").Logger(),
		readFile:  os.ReadFile,
	}
}

// Run processes commands until the attempt completes, the student quits,
// input ends or ctx is cancelled. The controller is closed on return.
func (r *Runner) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.ctrl.Close(closeCtx); err != nil {
			r.log.Warn().Err(err).Msg("close controller")
		}
	}()

	stopSuspend := watchSuspend(ctx, r.screen, r.ctrl.VisibilityChanged)
	defer stopSuspend()

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	r.presenter.Render(r.ctrl.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.presenter.Completed():
			return nil
		case line, ok := <-lines:
			if !ok {
				if r.ctrl.Snapshot().State == app.Completed {
					return nil
				}
				r.presenter.Printf("Input closed, attempt abandoned.\n")
				return nil
			}
			quit, err := r.handle(ctx, line)
			if err != nil {
				r.report(err)
			}
			if quit {
				return nil
			}
			if r.ctrl.Snapshot().State == app.Completed {
				return nil
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		r.presenter.Printf("%s", helpText)
	case "start":
		return false, r.ctrl.Start(ctx)
	case "n":
		r.ctrl.Next()
	case "p":
		r.ctrl.Previous()
	case "g":
		n, err := intArg(args)
		if err != nil {
			return false, err
		}
		r.ctrl.Navigate(n - 1)
	case "a":
		return false, r.choose(args)
	case "code":
		return false, r.loadCode(args)
	case "lang":
		if len(args) != 1 {
			return false, errors.New("usage: lang LANGUAGE")
		}
		q, err := r.current()
		if err != nil {
			return false, err
		}
		return false, r.ctrl.ChangeLanguage(q.ID, args[0])
	case "run":
		return false, r.run(ctx)
	case "try":
		return false, r.try(ctx, args)
	case "submit":
		return false, r.ctrl.Submit(ctx)
	case "ack":
		for _, a := range r.ctrl.Snapshot().Alerts {
			r.ctrl.AcknowledgeAlert(a.Kind)
		}
	case "fs":
		return false, r.ctrl.ReacquireFullscreen(ctx)
	case "q", "quit":
		r.presenter.Printf("Attempt abandoned.\n")
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return false, nil
}

func (r *Runner) current() (domain.Question, error) {
	snap := r.ctrl.Snapshot()
	if snap.State != app.InProgress {
		return domain.Question{}, domain.ErrInvalidState
	}
	q, ok := snap.Current()
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (r *Runner) choose(args []string) error {
	n, err := intArg(args)
	if err != nil {
		return err
	}
	q, err := r.current()
	if err != nil {
		return err
	}
	if q.Kind != domain.SingleChoice {
		return domain.ErrAnswerKindMismatch
	}
	if n == 0 {
		if err := r.ctrl.SelectAnswer(q.ID, domain.SingleChoiceAnswer{}); err != nil {
			return err
		}
		r.presenter.Printf("Answer cleared.\n")
		return nil
	}
	if n < 1 || n > len(q.Options) {
		return fmt.Errorf("choose an option between 1 and %d", len(q.Options))
	}
	if err := r.ctrl.SelectAnswer(q.ID, domain.Choose(q.Options[n-1].ID)); err != nil {
		return err
	}
	r.presenter.Printf("Selected option %d.\n", n)
	return nil
}

func (r *Runner) loadCode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: code FILE")
	}
	q, err := r.current()
	if err != nil {
		return err
	}
	src, err := r.readFile(args[0])
	if err != nil {
		return err
	}
	if err := r.ctrl.SelectAnswer(q.ID, domain.CodingAnswer{Code: string(src)}); err != nil {
		return err
	}
	r.presenter.Printf("Loaded %d bytes. Type 'run' to verify it.\n", len(src))
	return nil
}

func (r *Runner) run(ctx context.Context) error {
	q, err := r.current()
	if err != nil {
		return err
	}
	r.presenter.Printf("Running...\n")
	report, err := r.ctrl.RunCode(ctx, q.ID)
	if err != nil {
		return err
	}
	if report.Error != "" {
		r.presenter.Printf("Error: %s\n", report.Error)
		return nil
	}
	for i, res := range report.Results {
		verdict := "FAIL"
		if res.Passed {
			verdict = "PASS"
		}
		if !res.IsPublic {
			r.presenter.Printf(" case %d (hidden): %s\n", i+1, verdict)
			continue
		}
		r.presenter.Printf(" case %d: %s\n   input:    %s\n   expected: %s\n   actual:   %s\n", i+1, verdict, res.Input, res.Expected, res.Actual)
		if res.Error != "" {
			r.presenter.Printf("   error:    %s\n", res.Error)
		}
	}
	r.presenter.Printf("Passed %d of %d.\n", report.Passed(), len(report.Results))
	return nil
}

func (r *Runner) try(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: try FILE")
	}
	q, err := r.current()
	if err != nil {
		return err
	}
	input, err := r.readFile(args[0])
	if err != nil {
		return err
	}
	out, err := r.ctrl.RunCustom(ctx, q.ID, string(input))
	if err != nil {
		return err
	}
	if !out.Success && out.Error != "" {
		r.presenter.Printf("Error: %s\n", out.Error)
		return nil
	}
	r.presenter.Printf("%s\n", out.Output)
	return nil
}

func (r *Runner) report(err error) {
	var (
		vErr  *domain.ValidationError
		sErr  *domain.SubmissionError
		stErr *domain.StartError
	)
	switch {
	case errors.Is(err, domain.ErrTestNotOpen), errors.Is(err, domain.ErrTestClosed):
		r.presenter.Printf("Cannot start: %v.\n", errors.Unwrap(err))
	case errors.As(err, &vErr):
		r.presenter.Printf("%s\n", domain.UserMessage(err, ""))
		snap := r.ctrl.Snapshot()
		for i, q := range snap.Questions {
			if q.ID == vErr.QuestionID {
				r.presenter.Printf("Question %d still needs a run.\n", i+1)
			}
		}
	case errors.As(err, &sErr):
		r.presenter.Printf("%s\n", domain.UserMessage(err, "Failed to submit test. Please try again."))
	case errors.As(err, &stErr):
		r.presenter.Printf("%s\n", domain.UserMessage(err, "Failed to start test. Please try again."))
	default:
		r.presenter.Printf("%s\n", domain.UserMessage(err, err.Error()))
	}
	r.log.Debug().Err(err).Msg("command failed")
}

func intArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected a number")
	}
	return strconv.Atoi(args[0])
}
