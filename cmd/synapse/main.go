package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lazypower/synapse/internal/cli"
)

func main() {
	// Best-effort .env load; absence is fine.
	godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
