// Package main is the entry point for the deskauth broker.
package main

import (
	"os"

	"github.com/aloks98/deskauth/cmd/deskauth/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
