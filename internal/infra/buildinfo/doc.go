// Package buildinfo reports the version of the running binary.
//
// Release builds inject values through ldflags:
//
//	go build -ldflags "-X github.com/yndnr/psastore-go/internal/infra/buildinfo.Version=v0.3.0"
//
// Development builds fall back to the VCS data recorded by the Go toolchain.
package buildinfo
