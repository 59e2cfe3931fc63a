// Package main provides the hailuoapi server binary.
//
// Usage:
//
//	hailuoapi serve [flags]
//
// The server exposes OpenAI-compatible chat, speech and transcription
// endpoints backed by the Hailuo conversational API. Callers authenticate
// with their own Hailuo credential as the bearer token.
package main

import (
	"fmt"
	"os"

	"github.com/LLM-Red-Team/hailuo-free-api/cmd/hailuoapi/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
