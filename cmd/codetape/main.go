// Command codetape records editing sessions from a directory and plays them
// back into another.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/codetape/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
