package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"placement-runner/internal/domain"
)

func (c *Client) FetchTestDefinition(ctx context.Context, testID int64) (domain.TestDefinition, error) {
	var def domain.TestDefinition
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/tests/%d", testID), nil, &def); err != nil {
		return domain.TestDefinition{}, err
	}
	return def, nil
}

func (c *Client) StartAttempt(ctx context.Context, testID int64) (domain.AttemptHandle, error) {
	var handle domain.AttemptHandle
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/attempts/tests/%d/start", testID), nil, &handle); err != nil {
		return domain.AttemptHandle{}, err
	}
	if handle.TestID == 0 {
		handle.TestID = testID
	}
	if handle.StartedAt.IsZero() {
		handle.StartedAt = c.now()
	}
	return handle, nil
}

type submitRequest struct {
	Answers []domain.AnswerWireRecord `json:"answers"`
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID int64, answers []domain.AnswerWireRecord) (domain.AttemptResult, error) {
	if answers == nil {
		answers = []domain.AnswerWireRecord{}
	}
	var res domain.AttemptResult
	path := fmt.Sprintf("/attempts/submit/%d", attemptID)
	if err := c.call(ctx, http.MethodPost, path, submitRequest{Answers: answers}, &res); err != nil {
		return domain.AttemptResult{}, err
	}
	return res, nil
}

type integrityRequest struct {
	Kind domain.IntegrityKind `json:"kind"`
	At   string               `json:"at"`
}

// RecordIntegrityEvent posts a tab-switch record. Only success or failure of
// the call matters.
func (c *Client) RecordIntegrityEvent(ctx context.Context, event domain.IntegrityEvent) error {
	path := fmt.Sprintf("/attempts/%d/tab-switch", event.AttemptID)
	_, err := c.do(ctx, http.MethodPost, path, integrityRequest{
		Kind: event.Kind,
		At:   event.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}, true)
	return err
}

// Judge runs code against the question's test cases.
func (c *Client) Judge(ctx context.Context, req domain.JudgeRequest) (domain.JudgeReport, error) {
	var report domain.JudgeReport
	if err := c.call(ctx, http.MethodPost, "/submissions/submit", req, &report); err != nil {
		return domain.JudgeReport{}, err
	}
	if report.Error == "" && len(report.Results) == 0 {
		report.Error = "No test cases found. Please contact instructor."
	}
	return report, nil
}

// Run executes code against custom input.
func (c *Client) Run(ctx context.Context, req domain.RunRequest) (domain.RunOutput, error) {
	var out domain.RunOutput
	if err := c.call(ctx, http.MethodPost, "/submissions/run", req, &out); err != nil {
		return domain.RunOutput{}, err
	}
	return out, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the outcome of a login.
type Session struct {
	Token        string
	RefreshToken string
	UserName     string
	Role         string
}

// Login exchanges credentials for a bearer token. It does not store the token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	raw, err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, false)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return Session{}, errors.New("invalid email or password")
		}
		return Session{}, err
	}

	res := gjson.ParseBytes(raw)
	root := res
	if data := res.Get("data"); data.IsObject() && data.Get("token").Exists() {
		root = data
	}
	s := Session{
		Token:        root.Get("token").String(),
		RefreshToken: root.Get("refreshToken").String(),
		UserName:     root.Get("user.name").String(),
		Role:         root.Get("user.role").String(),
	}
	if s.Token == "" {
		return Session{}, errors.New("login response has no token")
	}
	return s, nil
}
