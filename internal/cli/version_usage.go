package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"relaymeter/internal/versionutil"
)

func printUsage() {
	fmt.Println(`relaymeter - traffic accounting and enforcement for a proxy node fleet

Accepts traffic report batches from edge nodes, keeps per-forward, per-user
and per-grant byte counters, and pauses services that exceed their limits.

Usage:
  relaymeter serve                         Start the accounting server
  relaymeter serve -config relaymeter.yml  Start with a YAML config file
  relaymeter admin node add                Register an edge node (prints its secret)
  relaymeter admin tunnel add              Define a tunnel between nodes
  relaymeter admin user add                Create a user account
  relaymeter admin forward add             Bind a user's forward to a tunnel
  relaymeter admin grant add               Scope a user's quota on one tunnel
  relaymeter admin user disable            Disable a user account
  relaymeter admin grant disable           Disable a grant
  relaymeter admin forward resume          Reactivate a paused forward
  relaymeter version                       Print version
  relaymeter help                          Show this help

Quick Start:
  1. relaymeter serve                                      # start server
  2. relaymeter admin node add --name edge1 --address host:18080
  3. relaymeter admin user add --name alice --quota-gb 100
  4. point the node agent's report URL at /flow/upload?secret=<node secret>

Environment Variables:
  RELAYMETER_CONFIG       YAML config file path
  RELAYMETER_LISTEN_HTTP  HTTP listen address (default: :8080)
  RELAYMETER_DB_PATH      SQLite database path (default: ./relaymeter.db)
  RELAYMETER_TLS_MODE     TLS mode: off|auto|static (default: off)
  RELAYMETER_LOG_LEVEL    Log level: debug|info|warn|error (default: info)`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	if Version != "dev" {
		Version = versionutil.EnsureVPrefix(Version)
	}
}

func printVersion() {
	fmt.Println("relaymeter", Version)
}
