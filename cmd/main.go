package main

import (
	"os"

	"placement-runner/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
