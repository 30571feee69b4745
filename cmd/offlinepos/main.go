package main

import (
	"context"
	"fmt"
	"os"

	"offlinepos/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "offlinepos:", err)
	}
	os.Exit(cli.ExitCode(err))
}
