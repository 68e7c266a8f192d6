package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"placement-runner/internal/infra/api"
)

func writeCLIConfig(t *testing.T, baseURL, tokenFile string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "api:\n  baseUrl: " + baseURL + "\n  tokenFile: " + tokenFile + "\nlog:\n  format: json\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoginStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "student@example.com" || req.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"data":{"token":"tok-123","user":{"name":"Ravi"}}}`)
	}))
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "creds", "token")
	cfgPath := writeCLIConfig(t, server.URL+"/api", tokenFile)

	var out bytes.Buffer
	in := strings.NewReader("student@example.com\nhunter2\n")
	if err := runLogin(context.Background(), cfgPath, "", in, &out); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "Logged in as Ravi.") {
		t.Fatalf("unexpected output %q", out.String())
	}
	token, err := api.NewFileCredentials(tokenFile).Token()
	if err != nil || token != "tok-123" {
		t.Fatalf("stored token = %q, %v", token, err)
	}

	err = runLogin(context.Background(), cfgPath, "student@example.com", strings.NewReader("wrong\n"), &out)
	if err == nil {
		t.Fatalf("expected login with a bad password to fail")
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "take", "login"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestTakeRejectsBadTestID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"take", "abc"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "invalid test id") {
		t.Fatalf("expected invalid test id error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("invalid test id"), 1},
		{fmt.Errorf("take: %w", context.Canceled), 130},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
