// Package main is the entry point for the mcpdock orchestration core.
package main

import (
	"os"

	"github.com/mcpdock/mcpdock/cmd/mcpdock/app"
	"github.com/mcpdock/mcpdock/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
