package main

import (
	"os"

	"extractor/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
