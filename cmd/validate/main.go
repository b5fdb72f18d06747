// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// validate checks a stagecache YAML configuration file without starting
// the daemon. The file goes through the same loader the daemon uses, so
// defaults and STC_* environment overrides participate exactly as they
// would at startup.
//
// Usage:
//
//	validate -f config.yaml
//	validate --file config.yaml
//
// Exit codes:
//   - 0: configuration is valid
//   - 1: configuration is invalid (parse or validation error)
//   - 2: usage error
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/stagecache/internal/config"
)

var version = "dev"

const (
	exitValid   = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	var showVersion bool
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if showVersion {
		fmt.Fprintln(stdout, version)
		return exitValid
	}

	if file == "" {
		fmt.Fprintln(stderr, "error: --file is required")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "usage:")
		fmt.Fprintln(stderr, "  validate -f config.yaml")
		return exitUsage
	}

	cfg, err := config.NewLoader(file, version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration error in %s:\n  %v\n", file, err)
		return exitInvalid
	}

	fmt.Fprintf(stdout, "%s is valid\n", file)
	if cfg.Cache.FastRoot == "" {
		fmt.Fprintln(stdout, "note: no tier layout configured; the daemon will start in setup mode")
	}
	return exitValid
}
