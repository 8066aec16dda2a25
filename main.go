package main

import (
	"context"
	"os"

	"github.com/digitlab/digitlab/cmd"
	"github.com/digitlab/digitlab/internal/buildinfo"
)

// Set at build time with
// -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
)

func main() {
	build := buildinfo.NewContext(version, buildDate)

	rootCmd := cmd.RootCommand(build)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
