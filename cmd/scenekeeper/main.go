// Command scenekeeper keeps markdown scene documents in step with the
// threads a roleplay bot tracks.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/scenekeeper/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
