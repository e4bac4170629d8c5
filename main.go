package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {

	// Secrets such as the vault encryption key are conventionally provided
	// via a .env file; a missing file is fine when the environment is set
	// directly.
	_ = godotenv.Load()

	cmd := BuildCLI(&App{})
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
