package main

import (
	"os"

	"github.com/jzj1993/socketserver/servercli"
)

func main() {
	if err := servercli.Execute(); err != nil {
		os.Exit(1)
	}
}
