package main

import (
	"context"
	"os"

	"github.com/Brownie44l1/garbage-api/cmd/server/cmd"
)

func main() {
	command := cmd.RootCmd
	if err := command.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
