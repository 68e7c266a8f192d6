package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current attempt state.
	ErrInvalidState = errors.New("operation not allowed in current attempt state")
	// ErrQuestionNotFound indicates a question ID that is not part of the test.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a selected option that does not belong to the question.
	ErrOptionNotFound = errors.New("option not found")
	// ErrAnswerKindMismatch is returned when an answer shape does not fit its question.
	ErrAnswerKindMismatch = errors.New("answer kind does not match question")
	// ErrTimeExpired is returned for answer changes after the countdown reached zero.
	ErrTimeExpired = errors.New("time is up")
	// ErrTestNotOpen means the test window has not started yet.
	ErrTestNotOpen = errors.New("test has not opened yet")
	// ErrTestClosed means the test window is over.
	ErrTestClosed = errors.New("test window has closed")
	// ErrUnauthorized is returned when the API rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned when the stored token expired before the request.
	ErrSessionExpired = errors.New("session expired, please log in again")
)

// FetchError means the test definition could not be loaded. The page cannot render.
type FetchError struct {
	TestID int64
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("load test %d: %v", e.TestID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StartError means the attempt could not be created. Starting may be retried.
type StartError struct {
	TestID int64
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start test %d: %v", e.TestID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ValidationError blocks a manual submission and points at the offending question.
type ValidationError struct {
	QuestionID int64
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("question %d: %s", e.QuestionID, e.Reason)
}

// SubmissionError means the submit call failed. Answers stay in memory and the
// student may retry.
type SubmissionError struct {
	AttemptID int64
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %d: %v", e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IntegrityPostFailure is logged and never shown to the student.
type IntegrityPostFailure struct {
	AttemptID int64
	Kind      IntegrityKind
	Err       error
}

func (e *IntegrityPostFailure) Error() string {
	return fmt.Sprintf("record %s for attempt %d: %v", e.Kind, e.AttemptID, e.Err)
}

func (e *IntegrityPostFailure) Unwrap() error { return e.Err }

// APIError is a non successful response from the placement API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// UserMessage picks the text shown to the student for err, falling back when
// the API gave no message.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "You have coding questions with unverified code. Please run your code before submitting."
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrUnauthorized) {
		return ErrSessionExpired.Error()
	}
	return fallback
}
