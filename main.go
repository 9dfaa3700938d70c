package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/projecteru2/bootkit/cmd"
	cmdcore "github.com/projecteru2/bootkit/cmd/core"
)

func main() {
	if err := cmd.Execute(); err != nil {
		var exit *cmdcore.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
