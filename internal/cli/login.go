package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"placement-runner/internal/infra/api"
)

// NewLoginCmd builds the subcommand storing a bearer token for later runs.
func NewLoginCmd(configPath *string) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the placement platform and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), *configPath, email, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func runLogin(ctx context.Context, configPath, email string, in io.Reader, out io.Writer) error {
	cfg, log, err := bootstrap(configPath, os.Stderr)
	if err != nil {
		return err
	}
	_, file, err := credentials(cfg)
	if err != nil {
		return err
	}
	client, err := newAPIClient(cfg, nil, log)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	if email == "" {
		fmt.Fprint(out, "Email: ")
		if email, err = readLine(reader); err != nil {
			return err
		}
	}
	fmt.Fprint(out, "Password: ")
	password, err := readPassword(in, reader)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}

	session, err := client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := file.Save(session.Token); err != nil {
		return err
	}

	name := session.UserName
	if name == "" {
		name = email
	}
	fmt.Fprintf(out, "Logged in as %s.\n", name)
	if exp, ok := api.TokenExpiry(session.Token); ok {
		fmt.Fprintf(out, "Session valid until %s.\n", exp.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// readPassword reads without echo when in is a terminal.
func readPassword(in io.Reader, reader *bufio.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		return string(raw), err
	}
	return readLine(reader)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
