package main

import (
	"os"

	"github.com/alliancesoftware/apfrontend/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
