// Command relayctl mints development tokens and talks to a running relay
// through the client connection manager.
package main

import (
	"os"

	"github.com/RealBhupesh/fictional-carnival/internal/platform/version"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = version.Get().String()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
