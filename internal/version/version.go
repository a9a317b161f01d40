// Package version exposes build metadata stamped via -ldflags.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "silencevoice/" + Version
}

func String() string {
	return "silencevoice " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}
