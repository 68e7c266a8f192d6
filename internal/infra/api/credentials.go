package api

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialProvider supplies the bearer token for API calls. Clear is the
// session teardown invoked when the API rejects the token.
type CredentialProvider interface {
	Token() (string, error)
	Clear() error
}

// StaticCredentials is a fixed token, typically from configuration.
type StaticCredentials string

func (s StaticCredentials) Token() (string, error) { return string(s), nil }

func (StaticCredentials) Clear() error { return nil }

// FileCredentials keeps the token in a file owned by the current user.
type FileCredentials struct {
	path string
	mu   sync.Mutex
}

func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

// DefaultTokenFile is where `runner login` stores the token.
func DefaultTokenFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "placement-runner", "token"), nil
}

func (f *FileCredentials) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *FileCredentials) Save(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(f.path, []byte(token+"\n"), 0o600)
}

func (f *FileCredentials) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// tokenExpired reads the exp claim without verifying the signature; the API
// remains the authority on validity. Tokens that are not JWTs never expire here.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}

// TokenExpiry returns the exp claim of a JWT, if any.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
