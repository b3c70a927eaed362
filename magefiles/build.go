// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for pantry using Mage.
//
// Usage:
//
//	mage build        Compile the pantry binary to bin/
//	mage test:all     Run every test
//	mage test:golden  Regenerate golden files
//	mage lint         Check gofmt, then run golangci-lint
//	mage fmt          List files that need gofmt
//	mage install      Install pantry to GOPATH/bin
//	mage stats        Print Go lines of code per package
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "pantry"
	binaryDir  = "bin"
	cmdDir     = "./cmd/pantry"
	modulePath = "github.com/mesh-intelligence/pantry"
)

// ldflags stamps the version from $PANTRY_VERSION when set.
func ldflags() string {
	v := os.Getenv("PANTRY_VERSION")
	if v == "" {
		return ""
	}
	return "-X " + modulePath + "/internal/cli.Version=" + v
}

// Build compiles the pantry binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
