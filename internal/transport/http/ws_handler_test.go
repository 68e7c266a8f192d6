package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
	"placement-runner/internal/infra/memory"
)

type fakeBackend struct {
	mu      sync.Mutex
	token   string
	submits int
	events  int
}

func (b *fakeBackend) StartAttempt(_ context.Context, testID int64) (domain.AttemptHandle, error) {
	return domain.AttemptHandle{ID: 77, TestID: testID}, nil
}

func (b *fakeBackend) SubmitAttempt(_ context.Context, _ int64, answers []domain.AnswerWireRecord) (domain.AttemptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	correct := 0
	for _, a := range answers {
		if a.SelectedOptionID != nil && *a.SelectedOptionID == 11 {
			correct++
		}
	}
	return domain.AttemptResult{CorrectAnswers: correct, IncorrectAnswers: 2 - correct}, nil
}

func (b *fakeBackend) RecordIntegrityEvent(context.Context, domain.IntegrityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events++
	return nil
}

func (b *fakeBackend) Judge(context.Context, domain.JudgeRequest) (domain.JudgeReport, error) {
	return domain.JudgeReport{Results: []domain.JudgeCaseResult{{Passed: true, IsPublic: true}}}, nil
}

func (b *fakeBackend) Run(_ context.Context, req domain.RunRequest) (domain.RunOutput, error) {
	return domain.RunOutput{Output: strings.ToUpper(req.Input), Success: true}, nil
}

func newTestServer(t *testing.T, allowedOrigins ...string) (*httptest.Server, *fakeBackend, *memory.SessionRegistry) {
	t.Helper()
	backend := &fakeBackend{}
	sessions := memory.NewSessionRegistry()
	catalog := memory.NewDefinitionCache(memory.NewStaticCatalog(sampleDefinitions()), time.Minute)
	service := app.NewRunnerService(sessions, catalog, backend, app.Options{ExternalTicks: true})
	wsHandler := NewWSHandler(service, func(token string) app.Backend {
		backend.mu.Lock()
		backend.token = token
		backend.mu.Unlock()
		return backend
	}, allowedOrigins, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, backend, sessions
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestWebSocketAttemptFlow(t *testing.T) {
	server, backend, sessions := newTestServer(t)
	conn := dial(t, server, "testId=1&token=student-token")

	_, payload := readNext(conn, t, "state")
	if payload["state"] != "not_started" || payload["title"] != "Placement" {
		t.Fatalf("unexpected initial state %v", payload)
	}

	send(t, conn, "start", nil)
	readUntil(conn, t, "screen", func(p map[string]any) bool { return p["fullscreen"] == true })
	readUntil(conn, t, "state", func(p map[string]any) bool { return p["state"] == "in_progress" })

	send(t, conn, "select", map[string]any{"questionId": 1, "optionId": 11})
	readUntil(conn, t, "state", func(p map[string]any) bool { return p["answeredCount"] == float64(1) })

	send(t, conn, "visibility", map[string]any{"hidden": true})
	send(t, conn, "visibility", map[string]any{"hidden": false})
	alert := readUntil(conn, t, "alert", nil)
	if alert["kind"] != "tab-switch" || alert["acknowledgeable"] != true {
		t.Fatalf("unexpected alert %v", alert)
	}
	send(t, conn, "ack", map[string]any{"kind": "tab-switch"})

	code := "function solve(input) { return input.split(' ').map(Number).reduce((a, b) => a + b) }"
	send(t, conn, "select", map[string]any{"questionId": 2, "code": code, "language": "javascript"})
	send(t, conn, "submit", nil)
	errPayload := readUntil(conn, t, "error", nil)
	if errPayload["kind"] != "validation" || errPayload["questionId"] != float64(2) {
		t.Fatalf("expected validation error for question 2, got %v", errPayload)
	}

	send(t, conn, "runCustom", map[string]any{"questionId": 2, "input": "abc"})
	out := readUntil(conn, t, "run", nil)
	if output, _ := out["output"].(map[string]any); output["output"] != "ABC" {
		t.Fatalf("unexpected run output %v", out)
	}

	send(t, conn, "run", map[string]any{"questionId": 2})
	readUntil(conn, t, "judge", nil)

	send(t, conn, "submit", nil)
	readUntil(conn, t, "screen", func(p map[string]any) bool { return p["fullscreen"] == false })
	done := readUntil(conn, t, "state", func(p map[string]any) bool { return p["state"] == "completed" })
	if done["scorePercentage"] != float64(50) {
		t.Fatalf("score = %v, want 50", done["scorePercentage"])
	}

	backend.mu.Lock()
	if backend.token != "student-token" || backend.submits != 1 {
		t.Fatalf("backend token=%q submits=%d", backend.token, backend.submits)
	}
	backend.mu.Unlock()

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for sessions.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("controller not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.events != 1 {
		t.Fatalf("integrity events = %d, want 1", backend.events)
	}
}

func TestWebSocketUnknownTest(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dial(t, server, "testId=404&token=student-token")

	_, payload := readNext(conn, t, "error")
	if payload["kind"] != "fetch" || payload["message"] != "Test not found" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestWebSocketRequiresTestID(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	server, backend, sessions := newTestServer(t)
	u := "ws" + server.URL[len("http"):] + "/ws?testId=1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("connection without a token should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
	if sessions.Len() != 0 {
		t.Fatalf("no attempt should be opened")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.token != "" {
		t.Fatalf("backend built for rejected connection")
	}
}

func TestWebSocketChecksOrigin(t *testing.T) {
	server, _, _ := newTestServer(t, "https://placement.example.com")
	u := "ws" + server.URL[len("http"):] + "/ws?testId=1&token=student-token"

	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatalf("foreign origin should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://placement.example.com"}})
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	defer conn.Close()
	if _, payload := readNext(conn, t, "state"); payload["state"] != "not_started" {
		t.Fatalf("unexpected initial state %v", payload)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// readUntil skips messages until one of type typ satisfies match.
func readUntil(conn *websocket.Conn, t *testing.T, typ string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		got, payload := readNext(conn, t, "")
		if got == typ && (match == nil || match(payload)) {
			return payload
		}
	}
	t.Fatalf("no %s message matched", typ)
	return nil
}

func sampleDefinitions() map[int64]domain.TestDefinition {
	return map[int64]domain.TestDefinition{
		1: {
			ID:               1,
			Title:            "Placement",
			TimeLimitMinutes: 30,
			TotalMarks:       15,
			Questions: []domain.Question{
				{
					ID:   1,
					Kind: domain.SingleChoice,
					Text: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: 10, Text: "3"},
						{ID: 11, Text: "4"},
					},
					Marks: 5,
				},
				{
					ID:       2,
					Kind:     domain.Coding,
					Text:     "Sum the numbers",
					Language: "javascript",
					Marks:    10,
				},
			},
		},
	}
}
