// Package main is the abdrive command itself.
package main

import (
	"os"

	"github.com/fatih/color"

	"go.viam.com/abdrive/cli"
)

func main() {
	app := cli.NewApp(color.Output, color.Error)
	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed).Fprintf(color.Error, "abdrive: %v\n", err)
		os.Exit(1)
	}
}
