// The main package for the craftwatch executable.
package main

import (
	"github.com/JakeFAU/craftwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
