// Package main provides the fmdata CLI.
package main

import (
	"github.com/leapstack-labs/fmdata/internal/cli"
)

func main() {
	cli.Execute()
}
