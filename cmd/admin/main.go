// Command admin runs operator actions against the matcha user store:
// moderation, soft deletion, manual email verification and migrations.
//
// It reads the same environment as the server (see internal/config).
package main

import (
	"fmt"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
