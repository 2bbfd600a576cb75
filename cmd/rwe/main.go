package main

import (
	"os"

	"github.com/malbeclabs/rwe/cmd/rwe/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
