package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"placement-runner/internal/app"
	"placement-runner/internal/config"
	"placement-runner/internal/infra/api"
	"placement-runner/internal/logger"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

// ExitCode maps the error returned by Execute to a process exit status.
// An interrupted session exits like a shell job killed by SIGINT.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "runner",
		Short:        "Take placement tests from a terminal or bridge them to a browser over websockets",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewServeCmd(&configPath))
	cmd.AddCommand(NewTakeCmd(&configPath))
	cmd.AddCommand(NewLoginCmd(&configPath))
	return cmd
}

// bootstrap loads configuration and builds the logger every subcommand uses.
func bootstrap(path string, logOut io.Writer) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, logger.Setup(logOut, cfg.Log.Level, cfg.Log.Format), nil
}

// credentials prefers a configured token over the file written by `runner login`.
func credentials(cfg config.Config) (api.CredentialProvider, *api.FileCredentials, error) {
	path := cfg.API.TokenFile
	if path == "" {
		var err error
		if path, err = api.DefaultTokenFile(); err != nil {
			return nil, nil, err
		}
	}
	file := api.NewFileCredentials(path)
	if cfg.API.Token != "" {
		return api.StaticCredentials(cfg.API.Token), file, nil
	}
	return file, file, nil
}

func newAPIClient(cfg config.Config, creds api.CredentialProvider, log zerolog.Logger) (*api.Client, error) {
	baseURL, err := api.ResolveBaseURL(cfg.API.BaseURL, cfg.API.Origin)
	if err != nil {
		return nil, err
	}
	timeout := config.TTLDuration(cfg.API.Timeout, 15*time.Second)
	return api.NewClient(baseURL, timeout, creds, log), nil
}

func controllerOptions(cfg config.Config, log *zerolog.Logger) app.Options {
	return app.Options{
		CodeTrustThreshold: cfg.Attempt.CodeTrustThreshold,
		PostTimeout:        config.TTLDuration(cfg.API.Timeout, app.DefaultPostTimeout),
		Logger:             log,
	}
}
