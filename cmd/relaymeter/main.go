package main

import (
	"os"

	"relaymeter/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
