package main

import (
	"os"

	"github.com/wonny/talos/cmd/talos/commands"
)

// main is the entry point for the Talos CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/talos [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
