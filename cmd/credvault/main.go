// Package main is the entrypoint for the credvault credential service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errLogged) {
			fmt.Fprintf(os.Stderr, "credvault: %v\n", err)
		}
		os.Exit(1)
	}
}
