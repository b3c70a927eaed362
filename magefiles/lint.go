// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binLint    = "golangci-lint"
	binGofmt   = "gofmt"
	lintConfig = ".golangci.yml"
)

// sourceDirs are the trees pantry owns. gofmt walks underscore directories,
// so it is pointed at these instead of ".".
var sourceDirs = []string{"cmd", "internal", "pkg", "magefiles"}

// Lint checks formatting, then runs golangci-lint with the repo config.
func Lint() error {
	mg.Deps(Fmt)
	return sh.RunV(binLint, "run", "--config", lintConfig, "--timeout", "5m", "./...")
}

// Fmt fails when any Go file under sourceDirs is not gofmt-clean.
func Fmt() error {
	out, err := sh.Output(binGofmt, append([]string{"-l"}, sourceDirs...)...)
	if err != nil {
		return err
	}
	if files := unformatted(out); len(files) > 0 {
		return fmt.Errorf("gofmt: %d file(s) need formatting:\n  %s", len(files), strings.Join(files, "\n  "))
	}
	return nil
}

// unformatted parses gofmt -l output.
func unformatted(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files
}
