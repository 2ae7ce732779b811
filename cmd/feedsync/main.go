// Command feedsync runs the feed sync engine and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/feedsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
