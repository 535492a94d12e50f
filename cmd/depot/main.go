// Command depot is the depot command-line client.
package main

import (
	"os"

	"github.com/kilupskalvis/depot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
