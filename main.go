// The main package for the harvester executable.
package main

import (
	"github.com/JakeFAU/uiblocks-harvester/cmd"
)

func main() {
	cmd.Execute()
}
