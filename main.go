// The main package for the frameingest executable.
package main

import (
	"github.com/JakeFAU/frame-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
