package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/provisio/provisio/cmd/provisio/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// The first signal cancels the run; operations already running finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := commands.Execute(ctx, commands.VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
	stop()
	os.Exit(code)
}
