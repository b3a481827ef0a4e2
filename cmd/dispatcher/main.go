// Package main provides the dispatcher CLI.
//
// The dispatcher runs the configured health checks and sends at most one notification per
// failure identity per retention window. It can run a single cycle, run as a scheduled
// daemon, or perform the administrative operations on the failure record store.
package main

import (
	"context"
	"fmt"
	"os"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "dispatcher"
)

func main() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}
