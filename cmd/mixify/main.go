package main

import (
	"os"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Stderr))
}
