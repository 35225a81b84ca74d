package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/samplegrid/internal/app"
	"github.com/vk/samplegrid/internal/cli"
	"github.com/vk/samplegrid/internal/graph"
	"github.com/vk/samplegrid/internal/params"
)

// main is the entrypoint for the samplegrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical startup errors, so we recover here to
	// provide a clean exit message to the user. A bad parameter file is a
	// usage error, not a crash.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "A critical startup error occurred: %v\n", r)
			os.Exit(2)
		}
	}()

	gridApp := app.NewApp(outW, appConfig)

	return gridApp.Run(context.Background())
}

// exitCode maps error classes to the process exit contract: 2 for anything
// the user can fix in configuration, 1 for a run that failed while executing.
func exitCode(err error) int {
	var cfgErr *params.ConfigurationError
	var buildErr *graph.GraphBuildError
	var inputErr *graph.MissingInputError
	if errors.As(err, &cfgErr) || errors.As(err, &buildErr) || errors.As(err, &inputErr) {
		return 2
	}
	return 1
}
