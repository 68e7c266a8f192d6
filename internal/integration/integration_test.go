package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
	"placement-runner/internal/infra/api"
	infraredis "placement-runner/internal/infra/redis"
)

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	placement := newPlacementAPI(t)
	client := api.NewClient(placement.URL+"/api", 5*time.Second, api.StaticCredentials("student"), zerolog.Nop())

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	catalog := infraredis.NewDefinitionCache(redisClient, client, 5*time.Minute, zerolog.Nop())
	sessions := infraredis.NewSessionRegistry(redisClient, 5*time.Minute)
	service := app.NewRunnerService(sessions, catalog, client, app.Options{
		ExternalTicks: true,
		Shuffle:       func(int, func(int, int)) {},
	})

	first, err := service.Open(ctx, "conn-1", 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := service.Open(ctx, "conn-2", 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if got := placement.fetches.Load(); got != 1 {
		t.Fatalf("definition fetched %d times, want 1 (cached)", got)
	}
	if n, err := redisClient.Exists(ctx, "runner:test:1", "runner:session:conn-1", "runner:session:conn-2").Result(); err != nil || n != 3 {
		t.Fatalf("expected cache entry and two session markers, got %d (%v)", n, err)
	}

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := first.SelectAnswer(1, domain.Choose(11)); err != nil {
		t.Fatalf("select: %v", err)
	}
	first.VisibilityChanged(true)
	if err := first.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := first.Snapshot()
	if snap.State != app.Completed || snap.ScorePercentage != 50 {
		t.Fatalf("unexpected result state=%s score=%d", snap.State, snap.ScorePercentage)
	}

	if err := service.Leave(ctx, "conn-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if n, _ := redisClient.Exists(ctx, "runner:session:conn-1").Result(); n != 0 {
		t.Fatalf("session marker should be removed on leave")
	}
	if placement.events.Load() != 1 {
		t.Fatalf("integrity events = %d, want 1", placement.events.Load())
	}

	if err := service.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if second.Snapshot().State != app.NotStarted {
		t.Fatalf("unstarted attempt should stay unstarted")
	}
	if n, _ := redisClient.Exists(ctx, "runner:session:conn-2").Result(); n != 0 {
		t.Fatalf("session marker should be removed on shutdown")
	}
}

type placementAPI struct {
	*httptest.Server
	fetches atomic.Int32
	events  atomic.Int32
}

func newPlacementAPI(t *testing.T) *placementAPI {
	t.Helper()
	p := &placementAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tests/1", func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)
		writeData(w, sampleDefinition())
	})
	mux.HandleFunc("POST /api/attempts/tests/1/start", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"id": 501})
	})
	mux.HandleFunc("POST /api/attempts/501/tab-switch", func(w http.ResponseWriter, r *http.Request) {
		p.events.Add(1)
		writeData(w, nil)
	})
	mux.HandleFunc("POST /api/attempts/submit/501", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		correct := 0
		if strings.Contains(string(raw), `"selectedOptionId":11`) {
			correct = 1
		}
		writeData(w, domain.AttemptResult{CorrectAnswers: correct, IncorrectAnswers: 2 - correct, TabSwitchCount: int(p.events.Load())})
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func sampleDefinition() domain.TestDefinition {
	return domain.TestDefinition{
		ID:               1,
		Title:            "Placement",
		TimeLimitMinutes: 30,
		TotalMarks:       2,
		Questions: []domain.Question{
			{ID: 1, Kind: domain.SingleChoice, Text: "What is 2 + 2?", Marks: 1, Options: []domain.Option{{ID: 10, Text: "3"}, {ID: 11, Text: "4"}}},
			{ID: 2, Kind: domain.SingleChoice, Text: "What is 3 + 3?", Marks: 1, Options: []domain.Option{{ID: 20, Text: "6"}, {ID: 21, Text: "7"}}},
		},
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
