package main

import (
	"fmt"
	"os"

	"github.com/go-delve/armbt/cmd/armbt/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
