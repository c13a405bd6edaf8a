package main

import (
	"fmt"
	"os"

	"github.com/openfluke/saxpy/cmd/saxpy/commands"

	_ "github.com/openfluke/saxpy/backend/host"
	_ "github.com/openfluke/saxpy/gpu"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(commands.ExitCode(err))
	}
}
