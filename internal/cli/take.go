package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"placement-runner/internal/app"
	"placement-runner/internal/domain"
	"placement-runner/internal/transport/terminal"
)

// NewTakeCmd builds the subcommand taking a test interactively in the terminal.
func NewTakeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "take TEST_ID",
		Short: "Take a placement test in this terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || testID <= 0 {
				return fmt.Errorf("invalid test id %q", args[0])
			}
			return runTake(cmd.Context(), *configPath, testID)
		},
	}
}

func runTake(ctx context.Context, configPath string, testID int64) error {
	cfg, log, err := bootstrap(configPath, os.Stderr)
	if err != nil {
		return err
	}
	creds, _, err := credentials(cfg)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg, creds, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenter := terminal.NewPresenter(os.Stdout)
	screen := terminal.NewScreen(os.Stdout, int(os.Stdout.Fd()))
	ctrl := app.NewController(app.Deps{
		Catalog:   client,
		Attempts:  client,
		Judge:     client,
		Presenter: presenter,
		Screen:    screen,
	}, controllerOptions(cfg, &log))

	if err := ctrl.LoadDefinition(ctx, testID); err != nil {
		_ = ctrl.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("%s: %w", domain.UserMessage(err, "Failed to load test"), err)
	}

	return terminal.NewRunner(ctrl, presenter, screen, os.Stdin, log).Run(ctx)
}
