// flaketrace scores test flakiness and explains failed test runs.
//
// Usage:
//
//	flaketrace score history.yaml [--test-id=<id>]
//	flaketrace batch results/*.xml --output=markdown
//	flaketrace rca failure.json
//	flaketrace serve [--metrics-addr=:9464]
package main

import "os"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// cobra has already printed the error.
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
