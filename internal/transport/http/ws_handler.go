package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
)

const closeTimeout = 5 * time.Second

// BackendFor builds the API backend acting for the student holding token.
type BackendFor func(token string) app.Backend

type WSHandler struct {
	service    *app.RunnerService
	backendFor BackendFor
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewWSHandler serves attempts for connections that carry a student token.
// allowedOrigins restricts the pages that may connect; empty permits all.
func NewWSHandler(service *app.RunnerService, backendFor BackendFor, allowedOrigins []string, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service:    service,
		backendFor: backendFor,
		upgrader:   buildUpgrader(allowedOrigins),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type selectPayload struct {
	QuestionID int64   `json:"questionId"`
	OptionID   *int64  `json:"optionId"`
	Code       *string `json:"code"`
	Language   string  `json:"language"`
}

type languagePayload struct {
	QuestionID int64  `json:"questionId"`
	Language   string `json:"language"`
}

type runPayload struct {
	QuestionID int64  `json:"questionId"`
	Input      string `json:"input"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type visibilityPayload struct {
	Hidden bool `json:"hidden"`
}

type fullscreenPayload struct {
	Active bool   `json:"active"`
	Error  string `json:"error"`
}

type ackPayload struct {
	Kind app.AlertKind `json:"kind"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	QuestionID int64  `json:"questionId,omitempty"`
}

type screenPayload struct {
	Fullscreen bool `json:"fullscreen"`
}

type judgePayload struct {
	QuestionID int64              `json:"questionId"`
	Report     domain.JudgeReport `json:"report"`
}

type runResultPayload struct {
	QuestionID int64            `json:"questionId"`
	Output     domain.RunOutput `json:"output"`
}

// ServeWS upgrades HTTP requests to websockets and runs one attempt per connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(r.URL.Query().Get("testId"), 10, 64)
	if err != nil || testID <= 0 {
		http.Error(w, "missing or invalid testId", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" || h.backendFor == nil {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := h.log.With().Str("conn_id", connID).Int64("test_id", testID).Logger()

	out := newOutbox()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range out.send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write failed")
				failed = true
			}
		}
	}()

	backend := h.backendFor(token)

	ctx, cancel := context.WithCancel(context.Background())
	updates := app.NewUpdates()
	ctrl, err := h.service.Open(ctx, connID, testID, backend, updates, wsScreen{out: out})
	if err != nil {
		log.Warn().Err(err).Msg("open attempt failed")
		out.push(errorMessage(err))
		cancel()
		out.close()
		<-writerDone
		return
	}
	log.Info().Msg("connection opened")

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case snap := <-updates.Snapshots():
				out.push(outboundMessage[any]{Type: "state", Payload: snap})
			case alert := <-updates.Alerts():
				out.push(outboundMessage[any]{Type: "alert", Payload: alert})
			case <-ctx.Done():
				return
			}
		}
	}()

	var inflight sync.WaitGroup
	async := func(fn func()) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			fn()
		}()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.service.Heartbeat(ctx, connID); err != nil {
			log.Debug().Err(err).Msg("heartbeat failed")
		}
		h.dispatch(ctx, ctrl, inbound, out, async)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := h.service.Leave(closeCtx, connID); err != nil {
		log.Warn().Err(err).Msg("close attempt")
	}
	cancel()
	inflight.Wait()
	<-forwardDone
	out.close()
	<-writerDone
	log.Info().Msg("connection closed")
}

func (h *WSHandler) dispatch(ctx context.Context, ctrl *app.Controller, inbound inboundMessage, out *outbox, async func(func())) {
	invalid := func() {
		out.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Kind: "invalid", Message: "invalid " + inbound.Type + " payload"}})
	}
	report := func(err error) {
		if err != nil {
			out.push(errorMessage(err))
		}
	}

	switch inbound.Type {
	case "start":
		async(func() { report(ctrl.Start(ctx)) })
	case "select":
		var p selectPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		var answer domain.AnswerRecord = domain.SingleChoiceAnswer{SelectedOptionID: p.OptionID}
		if p.Code != nil {
			answer = domain.CodingAnswer{Code: *p.Code, Language: p.Language}
		}
		report(ctrl.SelectAnswer(p.QuestionID, answer))
	case "language":
		var p languagePayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		report(ctrl.ChangeLanguage(p.QuestionID, p.Language))
	case "run":
		var p runPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		async(func() {
			res, err := ctrl.RunCode(ctx, p.QuestionID)
			if err != nil {
				report(err)
				return
			}
			out.push(outboundMessage[any]{Type: "judge", Payload: judgePayload{QuestionID: p.QuestionID, Report: res}})
		})
	case "runCustom":
		var p runPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		async(func() {
			res, err := ctrl.RunCustom(ctx, p.QuestionID, p.Input)
			if err != nil {
				report(err)
				return
			}
			out.push(outboundMessage[any]{Type: "run", Payload: runResultPayload{QuestionID: p.QuestionID, Output: res}})
		})
	case "navigate":
		var p navigatePayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		ctrl.Navigate(p.Index)
	case "submit":
		async(func() { report(ctrl.Submit(ctx)) })
	case "visibility":
		var p visibilityPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		ctrl.VisibilityChanged(p.Hidden)
	case "fullscreen":
		var p fullscreenPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		if p.Error != "" {
			ctrl.FullscreenUnavailable(errors.New(p.Error))
			return
		}
		ctrl.FullscreenChanged(p.Active)
	case "ack":
		var p ackPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			invalid()
			return
		}
		ctrl.AcknowledgeAlert(p.Kind)
	case "reacquire":
		report(ctrl.ReacquireFullscreen(ctx))
	default:
		out.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Kind: "invalid", Message: "unsupported message type"}})
	}
}

func errorMessage(err error) outboundMessage[any] {
	p := errorPayload{Kind: "error", Message: domain.UserMessage(err, err.Error())}
	var (
		fetchErr *domain.FetchError
		startErr *domain.StartError
		vErr     *domain.ValidationError
		subErr   *domain.SubmissionError
	)
	switch {
	case errors.As(err, &vErr):
		p.Kind = "validation"
		p.QuestionID = vErr.QuestionID
	case errors.As(err, &fetchErr):
		p.Kind = "fetch"
		p.Message = domain.UserMessage(err, "Failed to load test")
	case errors.As(err, &startErr):
		p.Kind = "start"
		p.Message = domain.UserMessage(err, "Failed to start test")
		if errors.Is(err, domain.ErrTestNotOpen) || errors.Is(err, domain.ErrTestClosed) {
			p.Message = startErr.Err.Error()
		}
	case errors.As(err, &subErr):
		p.Kind = "submission"
		p.Message = domain.UserMessage(err, "Failed to submit test. Please try again.")
	}
	return outboundMessage[any]{Type: "error", Payload: p}
}

// outbox feeds the single writer goroutine. Pushes after close are dropped.
type outbox struct {
	mu     sync.Mutex
	closed bool
	send   chan outboundMessage[any]
}

func newOutbox() *outbox {
	return &outbox{send: make(chan outboundMessage[any], 16)}
}

func (o *outbox) push(msg outboundMessage[any]) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.send <- msg
	return true
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.send)
	}
}

var errConnectionClosed = errors.New("connection closed")

// wsScreen asks the browser page to enter or leave full-screen. The page
// reports failures back with a fullscreen message carrying an error.
type wsScreen struct {
	out *outbox
}

func (s wsScreen) EnterFullscreen(context.Context) error {
	if !s.out.push(outboundMessage[any]{Type: "screen", Payload: screenPayload{Fullscreen: true}}) {
		return errConnectionClosed
	}
	return nil
}

func (s wsScreen) ExitFullscreen(context.Context) error {
	if !s.out.push(outboundMessage[any]{Type: "screen", Payload: screenPayload{Fullscreen: false}}) {
		return errConnectionClosed
	}
	return nil
}
