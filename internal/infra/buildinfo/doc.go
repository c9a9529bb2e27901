// Package buildinfo exposes the version stamped into graphmesh binaries.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/graphmesh-go/internal/infra/buildinfo.Version=v0.3.0 \
//	  -X github.com/yndnr/graphmesh-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Unset values fall back to what the Go toolchain recorded in the binary.
package buildinfo
