// Package cli wires the relaymeter commands: the accounting server itself
// and a small admin surface for seeding the fleet inventory.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relaymeter/internal/config"
	"relaymeter/internal/flow"
	"relaymeter/internal/gost"
	ilog "relaymeter/internal/log"
	"relaymeter/internal/nodes"
	"relaymeter/internal/server"
	"relaymeter/internal/store/sqlite"
)

func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runServe(ctx, nil)
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "admin":
		return runAdmin(ctx, args[1:])
	case "version":
		printVersion()
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", args[0])
		printUsage()
		return 2
	}
}

func runServe(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer store.Close()

	hub := nodes.NewHub(gost.New(cfg.NodeCommandTimeout), logger)
	svc := flow.NewService(store, hub, logger)

	s := server.New(cfg, store, hub, svc, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
