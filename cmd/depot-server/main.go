// Command depot-server runs the depot ledger server. It is equivalent to "depot server start".
package main

import (
	"os"

	"github.com/kilupskalvis/depot/internal/cli"
)

func main() {
	if err := cli.ExecuteServer(); err != nil {
		os.Exit(1)
	}
}
