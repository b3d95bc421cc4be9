package main

import (
	"os"

	"github.com/wayfinderhq/wayfinder/cmd/wayfinder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
