package main

import (
	"os"

	"xdao.co/kel/cmd/kli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
