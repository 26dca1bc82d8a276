package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/legwork-ci/legwork/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			fmt.Fprintf(os.Stderr, "legwork: %v\n", err)
		}
		os.Exit(1)
	}
}
