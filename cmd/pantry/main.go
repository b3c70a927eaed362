// Package main provides the pantry CLI.
package main

import "github.com/mesh-intelligence/pantry/internal/cli"

func main() {
	cli.Main()
}
