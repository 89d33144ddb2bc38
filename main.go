package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"quantlab/commands"
)

func main() {
	// cancelled on interrupt or term, every command shuts down from this context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
