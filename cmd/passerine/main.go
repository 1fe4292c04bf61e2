package main

import (
	"os"

	"github.com/vrtbl/passerine/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
