// Package main provides the silencevoice CLI process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/silencevoice/silencevoice/internal/app"
)

// main wires process signal handling to the application runner.
func main() {
	// A .env file next to the binary may carry ELEVENLABS_API_KEY and
	// endpoint overrides; a missing file is not an error.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(exitCode)
}
