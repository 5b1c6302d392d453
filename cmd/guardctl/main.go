package main

import (
	"fmt"
	"os"

	"github.com/posuite/request-guard/internal/tools/guardctl"
)

func main() {
	if err := guardctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
