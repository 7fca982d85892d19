// Package version reports build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the one-line version banner printed by `murmur version`.
func String() string {
	return fmt.Sprintf("murmur %s (commit=%s, date=%s, go=%s)", resolved(), Commit, Date, runtime.Version())
}

// resolved falls back to the module version when installed with `go install`.
func resolved() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
