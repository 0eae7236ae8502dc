// rconbridge drives a game server's remote console: one-shot commands, an
// interactive console, save swaps and a REST API with MQTT telemetry.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
