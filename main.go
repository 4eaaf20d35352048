// Command sipg runs the infrastructure system-of-systems co-simulator, either
// standalone or as one federate of a distributed run (see `sipg run --help`),
// and hosts the websocket RTI that such runs join (`sipg rti`).
package main

import (
	"github.com/code-lab-org/sipg-sub003/cmd"
)

func main() {
	cmd.Execute()
}
