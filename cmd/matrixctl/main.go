// Command matrixctl loads an AVDECC scenario into a connection matrix and
// prints it, replays its timeline, or shows how each cell is classified.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
