package main

import (
	"os"

	"github.com/lariat-ai/lariat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
