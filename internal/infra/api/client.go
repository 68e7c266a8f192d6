package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"placement-runner/internal/domain"
)

const maxResponseBytes = 4 << 20

// Client talks to the placement API. It implements app.Catalog, app.Attempts
// and app.Judge.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialProvider
	now     func() time.Time
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, creds CredentialProvider, log zerolog.Logger) *Client {
	if creds == nil {
		creds = StaticCredentials("")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		now:     time.Now,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// WithCredentials returns a client sharing the connection pool that
// authenticates with creds instead.
func (c *Client) WithCredentials(creds CredentialProvider) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

// ResolveBaseURL resolves a relative API base such as "/api" against origin,
// the way a browser resolves it against the page it was served from.
func ResolveBaseURL(base, origin string) (string, error) {
	ref, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if ref.IsAbs() {
		return strings.TrimRight(ref.String(), "/"), nil
	}
	root, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse api origin: %w", err)
	}
	if !root.IsAbs() {
		return "", fmt.Errorf("api origin %q is not absolute", origin)
	}
	return strings.TrimRight(root.ResolveReference(ref).String(), "/"), nil
}

// do sends a JSON request and returns the raw body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, in any, auth bool) ([]byte, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.creds.Token()
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		if token != "" {
			if tokenExpired(token, c.now()) {
				return nil, domain.ErrSessionExpired
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", c.now().Sub(start)).
		Msg("api call")

	if resp.StatusCode == http.StatusUnauthorized {
		if !auth {
			return nil, domain.ErrUnauthorized
		}
		if err := c.creds.Clear(); err != nil {
			c.log.Warn().Err(err).Msg("clear credentials")
		}
		return nil, domain.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.APIError{Status: resp.StatusCode, Message: envelopeMessage(raw)}
	}
	if success := gjson.GetBytes(raw, "success"); success.Exists() && !success.Bool() {
		return nil, &domain.APIError{Status: resp.StatusCode, Message: envelopeMessage(raw)}
	}
	return raw, nil
}

// call performs a request and decodes the envelope's data field into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	raw, err := c.do(ctx, method, path, in, true)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data := gjson.GetBytes(raw, "data")
	if !data.Exists() {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func envelopeMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	for _, path := range []string{"message", "error", "data.error"} {
		if v := gjson.GetBytes(raw, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
