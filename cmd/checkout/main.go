// Package main is the entrypoint for the embedded checkout client.
// It hydrates the session, keeps it in sync with the host surface over the
// relay bridge and serves health endpoints.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/embedded-checkout/internal/config"
	"github.com/aelexs/embedded-checkout/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "checkout",
		PortFromConfig: func(cfg *config.Config) int { return cfg.HTTPPort },
		Setup:          setup,
	}, nil)
}
