package main

import (
	"os"

	"github.com/yarlson/anchor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
