// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets.
type Test mg.Namespace

// All runs every test with the race detector.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Short skips slow tests.
func (Test) Short() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Cover writes a coverage profile to bin/coverage.out.
func (Test) Cover() error {
	mg.Deps(mkBinDir)
	return sh.RunV(binGo, "test", "-coverprofile="+binaryDir+"/coverage.out", "./...")
}

// Golden regenerates the golden files of the ui package.
func (Test) Golden() error {
	return sh.RunV(binGo, "test", "./internal/ui/...", "-update")
}

func mkBinDir() error {
	return os.MkdirAll(binaryDir, 0o755)
}
