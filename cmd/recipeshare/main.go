package main

import (
	"fmt"
	"os"

	"github.com/hashaatefac/Recipe-Sharing/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, app.FormatError(err))
		os.Exit(1)
	}
}
