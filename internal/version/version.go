// Package version exposes build metadata stamped into the binary.
package version

// Stamped via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/cortexa-labs/ragserver/internal/version.Version=1.2.0"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current returns the stamped build metadata.
func Current() Build {
	return Build{Version: Version, Commit: Commit, Date: Date}
}
