package main

import (
	"os"

	"github.com/DrSui/code-engine/cmd/codectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
