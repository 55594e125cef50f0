// Package main provides the CLI entry point for the conduit messaging
// adapters.
//
// Each adapter process bridges one upstream platform (Telegram, Discord,
// Slack, Zulip) or one local pseudo-platform (textfile, shell) to the
// downstream controller over a socket.io channel.
//
// # Basic Usage
//
// Start an adapter:
//
//	conduit telegram --config conduit.yaml
//	conduit shell --config conduit.yaml
//
// Configuration values may reference environment variables with ${VAR}
// syntax; a .env file next to the process is loaded before the config.
package main

import (
	"fmt"
	"os"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
