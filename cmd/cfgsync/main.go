// Command cfgsync serves and inspects synchronized portfolio configurations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cfgsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
