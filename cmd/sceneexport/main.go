package main

import (
	"os"

	"github.com/goliatone/go-sceneexport/internal/cli"
	"github.com/goliatone/go-sceneexport/logging"
)

// main is the entry point for the sceneexport CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", cli.ErrorAttrs(err)...)
		os.Exit(1)
	}
}
