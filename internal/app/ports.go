package app

import (
	"context"

	"placement-runner/internal/domain"
)

// Catalog loads test content.
type Catalog interface {
	FetchTestDefinition(ctx context.Context, testID int64) (domain.TestDefinition, error)
}

// Attempts creates, submits and annotates attempts on the backend.
type Attempts interface {
	StartAttempt(ctx context.Context, testID int64) (domain.AttemptHandle, error)
	SubmitAttempt(ctx context.Context, attemptID int64, answers []domain.AnswerWireRecord) (domain.AttemptResult, error)
	RecordIntegrityEvent(ctx context.Context, event domain.IntegrityEvent) error
}

// Judge executes coding answers.
type Judge interface {
	Judge(ctx context.Context, req domain.JudgeRequest) (domain.JudgeReport, error)
	Run(ctx context.Context, req domain.RunRequest) (domain.RunOutput, error)
}

// Presenter renders controller state and surfaces alerts to the student.
// Calls are made without the controller lock held.
type Presenter interface {
	Render(Snapshot)
	Alert(Alert)
}

// Screen owns the exclusive full-screen presentation mode.
type Screen interface {
	EnterFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

type nopPresenter struct{}

func (nopPresenter) Render(Snapshot) {}
func (nopPresenter) Alert(Alert)     {}

type nopScreen struct{}

func (nopScreen) EnterFullscreen(context.Context) error { return nil }
func (nopScreen) ExitFullscreen(context.Context) error  { return nil }
