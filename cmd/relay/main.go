// Command relay runs the webhook relay: the inbound endpoint, the delivery
// worker and a handful of operator commands against the same database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
