package main

import (
	"context"
	"fmt"
	"os"

	"github.com/zbysir/vscheduler/internal/cli"
)

func main() {
	if err := cli.BuildCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vscheduler: %v\n", err)
		os.Exit(1)
	}
}
