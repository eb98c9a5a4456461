// The main package for the scout executable.
package main

import (
	"os"

	"github.com/JakeFAU/doublescout/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
