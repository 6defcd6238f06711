// Command codebox-server is the entry point for the codebox execution
// service: a cobra CLI whose "serve" subcommand starts the HTTP server and
// whose "exec"/"fs"/"repl" subcommands are thin clients against it.
//
// Usage:
//
//	codebox-server serve [--verbose] [--json-log] [--api-key KEY]
//	codebox-server exec "print('hi')" --lang py
//	codebox-server fs put ./data.csv [session-id]
//	codebox-server repl [session-id]
package main

import "github.com/usnavy13/codebox/internal/cli"

func main() {
	cli.Execute()
}
