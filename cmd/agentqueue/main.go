// Agentqueue is the operator CLI for the agentqueue autonomous execution
// harness. It talks to the same SQLite file the agentqueued daemon owns:
// submitting and inspecting tasks, reading session output, and triggering a
// manual heartbeat beat.
package main

import (
	"os"
	"runtime/debug"

	"github.com/agentqueue/agentqueue/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
