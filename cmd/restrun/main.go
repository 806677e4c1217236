package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	exitOK        = 0
	exitFailed    = 1
	exitError     = 2
	exitCancelled = 130
)

// exitCodeError ends the process with code after its output was already
// written.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	code := exitCode(ctx, root.ExecuteContext(ctx))
	stop()
	os.Exit(code)
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return exitOK
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		fmt.Fprintln(os.Stderr, "\nCancelled")
		return exitCancelled
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}
