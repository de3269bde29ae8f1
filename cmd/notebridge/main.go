package main

import (
	"os"

	"github.com/tfkr-ae/notebridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
