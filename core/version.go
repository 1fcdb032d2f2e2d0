package core

// Build metadata, injected with:
//
//	go build -ldflags "-X fluxtask/core.Version=$(git describe --tags --always) -X fluxtask/core.GitCommit=$(git rev-parse --short HEAD)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns e.g. "v1.0.0 (built 2026-01-15T10:30:00Z, commit abc1234)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
