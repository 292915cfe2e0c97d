package main

import (
	"os"

	"github.com/tildeworks/steward/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
