// Package main is the entry point for the warden trust layer.
package main

import (
	"context"
	"fmt"
	"os"

	"warden/bootstrap"
	"warden/cmd"
)

// run initializes and starts the warden service.
func run() error {
	ctx := context.Background()

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	err = app.WaitForShutdown()
	app.Shutdown()
	return err
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "policy":
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
			if err := cmd.NewPolicyCmd().Execute(); err != nil {
				os.Exit(1)
			}
			return
		case "keygen":
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
			if err := cmd.NewKeygenCmd().Execute(); err != nil {
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
