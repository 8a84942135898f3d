package main

import (
	"os"

	"github.com/avocado-safe/avocado-core/cmd/avocado/internal/cli"
)

func main() {
	app, err := cli.NewApp()
	if err != nil {
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
