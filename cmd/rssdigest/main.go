// Command rssdigest fetches RSS/Atom feeds and writes the recent articles as
// a JSON digest.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/rssdigest/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		slog.Error("rssdigest failed", "error", err)
		cancel()
		os.Exit(1)
	}
}
