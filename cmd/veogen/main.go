package main

import (
	"os"

	"veogen/cmd/veogen/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
