// Package main is the entry point for the twoliter CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"

	"go.trai.ch/twoliter/cmd/twoliter/commands"
	"go.trai.ch/twoliter/internal/app"
	_ "go.trai.ch/twoliter/internal/wiring"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, _, err := graft.ExecuteFor[*app.Components](ctx)
	if err != nil {
		// The logger is not available if initialization failed.
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return app.ExitIO
	}
	defer func() {
		_ = components.Telemetry.Close()
	}()

	cli := commands.New(components.App)
	if err := cli.Execute(ctx); err != nil {
		// zerr prints a report with stack trace and metadata with %+v.
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		return app.ExitCode(err)
	}
	return app.ExitOK
}
