// Command convmem inspects and manages conversation memory from the
// terminal: create, list, clone, branch and delete sessions against any
// configured backend.
package main

import (
	"fmt"
	"os"

	"github.com/vianexus/agentmemory/cmd/convmem/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
