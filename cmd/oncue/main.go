package main

import (
	"os"

	"github.com/watzon/oncue/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
