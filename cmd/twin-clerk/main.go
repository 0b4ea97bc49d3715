// twin-clerk serves a local Frontend API for development and tests. It
// supports the sign-in, sign-up, identifier verification and session
// endpoints the clerkflow SDK calls, plus the /admin control plane.
//
// Codes and magic links are not sent anywhere; read them from
// GET /admin/outbox. Identifiers containing "+clerk_test" (email) or
// starting with +155555501 (phone) always accept the code 424242.
//
// Default port: 12112
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wondertwin-ai/clerkflow/internal/twin"
	"github.com/wondertwin-ai/clerkflow/pkg/twincore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "twin-clerk: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := twincore.ParseFlags("twin-clerk", args)
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = twin.DefaultPort
	}

	srv, err := twin.New(cfg)
	if err != nil {
		return err
	}
	srv.Logger.Info("twin-clerk ready",
		"port", cfg.Port,
		"jwks_endpoint", "/.well-known/jwks.json",
		"outbox", "/admin/outbox",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
