// Command streamctl operates a token-stream ledger journaled to SQLite.
package main

import (
	"os"

	"github.com/roach88/streamledger/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
