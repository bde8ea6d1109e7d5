package main

import (
	"fmt"
	"strings"
	"time"

	"context"

	"dagger/engram/internal/dagger"
)

// Build and return directory of go binaries.
//
// The sqlite-vec store driver needs CGO, so the matrix is limited to linux
// targets with the matching cross toolchain installed.
func (e *Engram) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	targets := []struct {
		goarch string
		cc     string
	}{
		{goarch: "amd64", cc: "gcc"},
		{goarch: "arm64", cc: "aarch64-linux-gnu-gcc"},
	}

	// create empty directory to put build artifacts
	outputs := dag.Directory()

	golang := e.goContainer().
		WithExec([]string{"apt-get", "install", "-y", "gcc-aarch64-linux-gnu"})

	for _, target := range targets {
		path := fmt.Sprintf("linux/%s/", target.goarch)

		build := golang.
			WithEnvVariable("GOOS", "linux").
			WithEnvVariable("GOARCH", target.goarch).
			WithEnvVariable("CC", target.cc).
			WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/engram"})

		outputs = outputs.WithDirectory(path, build.Directory(path))
	}

	// return build directory
	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (e *Engram) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now()

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/engram/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/engram/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/engram/pkg/utils.Buildtime=%s'", buildtime),
	}

	return e.Build(ctx, strings.Join(ldflags, " "))
}
