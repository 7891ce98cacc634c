package main

import (
	"os"

	"github.com/homewatt/flex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
