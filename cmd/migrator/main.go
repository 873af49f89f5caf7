package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/migration-orchestrator/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI until it finishes or the process is interrupted.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.Execute(ctx, args, stdout, stderr)
}
