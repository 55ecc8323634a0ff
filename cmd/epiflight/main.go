package main

// ============================================================================
// epiflight entry point
//
// All command logic lives in internal/cli; main only guards against panics.
//
//   go run ./cmd/epiflight run --days 120
//   go run ./cmd/epiflight ensemble --replicates 50 --workers 8
//   go run ./cmd/epiflight journal summary -f data/journal/events.log
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/epiflight/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	cli.Execute()
}
