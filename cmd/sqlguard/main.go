package main

import (
	"os"

	"github.com/seanankenbruck/nl2sql-guard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
