package main

import (
	"fmt"
	"os"

	"github.com/Anvoria/loginguard/internal/cli"
	"github.com/Anvoria/loginguard/internal/cli/sessions"
)

func main() {
	registry := cli.NewRegistry()

	registry.Register(&sessions.Command{})

	if err := registry.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
