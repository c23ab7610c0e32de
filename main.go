// The main package for the newsletter-archive executable.
package main

import (
	"github.com/JakeFAU/newsletter-archive/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
