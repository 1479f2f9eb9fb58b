package main

import (
	"os"

	"github.com/gladserv/shallfs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
