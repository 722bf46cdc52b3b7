// Command factorylab runs the vault factory scenario against the simulated
// ledger, serves its metrics and reads or follows a deployed factory over
// JSON-RPC.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "factorylab: %v\n", err)
		os.Exit(1)
	}
}
