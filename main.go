// The main package for the catalogue-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/parts-catalogue-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
