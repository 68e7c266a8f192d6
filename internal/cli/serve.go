package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"placement-runner/internal/app"
	"placement-runner/internal/config"
	"placement-runner/internal/infra/api"
	"placement-runner/internal/infra/memory"
	redisinfra "placement-runner/internal/infra/redis"
	transport "placement-runner/internal/transport/http"
)

// NewServeCmd builds the subcommand running the websocket bridge.
func NewServeCmd(configPath *string) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve test attempts to browsers over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, portFlag string) error {
	cfg, log, err := bootstrap(configPath, os.Stdout)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	creds, _, err := credentials(cfg)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg, creds, log)
	if err != nil {
		return err
	}

	cacheTTL := config.TTLDuration(cfg.Cache.TTL, 5*time.Minute)
	var (
		catalog     app.Catalog
		sessions    app.SessionRegistry
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		catalog = redisinfra.NewDefinitionCache(redisClient, client, cacheTTL, log)
		sessions = redisinfra.NewSessionRegistry(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		catalog = memory.NewDefinitionCache(client, cacheTTL)
		sessions = memory.NewSessionRegistry()
	}

	service := app.NewRunnerService(sessions, catalog, client, controllerOptions(cfg, &log))
	wsHandler := transport.NewWSHandler(service, func(token string) app.Backend {
		return client.WithCredentials(api.StaticCredentials(token))
	}, cfg.Server.AllowedOrigins, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", finalPort).Bool("redis", redisClient != nil).Msg("starting placement runner bridge")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(server.Shutdown(shutdownCtx), service.Shutdown(shutdownCtx))
}
