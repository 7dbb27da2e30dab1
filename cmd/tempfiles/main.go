package main

import (
	"os"

	"github.com/fredemmott/TempFiles/cmd/tempfiles/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
