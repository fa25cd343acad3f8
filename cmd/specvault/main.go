// Command specvault is a small administrative CLI over the local
// planning knowledge store: project/plan lifecycle and read-only
// diagnostics (health, export). The agent-facing tool dispatcher and
// its transport are separate, external concerns and are not part of
// this binary.
//
// Optional environment variables:
//
//	SPECVAULT_CONFIG            - path to a TOML config file
//	SPECVAULT_BASE_DIR           - root directory for the on-disk tree
//	SPECVAULT_CACHE_SIZE         - per-entity-type LRU cache size
//	SPECVAULT_MAX_HISTORY_DEPTH  - default history depth for new plans
//	SPECVAULT_LOG_LEVEL          - debug, info, warn, error (default: info)
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/specvault/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "specvault: %v\n", err)
		os.Exit(1)
	}
}
