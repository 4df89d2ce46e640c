// Command cloudcode is the entry point for both the sandbox server and the
// client commands that drive it.
package main

import "github.com/trancethehuman/claude-code-on-the-cloud/internal/cli"

func main() {
	cli.Execute()
}
