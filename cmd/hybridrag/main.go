// Package main is the entry point of the hybridrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/hybridrag/cmd/hybridrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
