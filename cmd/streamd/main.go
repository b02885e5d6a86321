// Command streamd serves streaming LLM generation with thinking and tool
// calls over HTTP, and offers a terminal chat against the same session.
//
// Usage:
//
//	streamd [--config file] [--log-level level] <command>
//
// Commands:
//
//	serve     - run the HTTP API
//	chat      - interactive chat in the terminal
//	models    - list catalog, downloaded and local models
//	download  - fetch a model from the Hugging Face hub
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
