package main

import (
	"fmt"
	"os"

	"github.com/BenjaminRose805/orca/internal/cli"
)

func main() {
	// If no args, launch the live monitor; otherwise route to the CLI
	if len(os.Args) == 1 {
		if err := cli.RunMonitor(""); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := cli.Execute(); err != nil {
			os.Exit(1)
		}
	}
}
