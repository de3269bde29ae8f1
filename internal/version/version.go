// Package version holds the build version of the notebridge binaries.
package version

// Version is overwritten at build time:
//
//	go build -ldflags "-X github.com/tfkr-ae/notebridge/internal/version.Version=v0.1.0" ./cmd/notebridge
var Version = "dev"
