// Command authd is the reference HTTP daemon around the authcore engine.
package main

import (
	"os"

	"github.com/MrEthical07/authcore/cmd/authd/commands"
)

func main() {
	rootCMD := commands.NewRootCMD()
	if err := rootCMD.Execute(); err != nil {
		rootCMD.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
