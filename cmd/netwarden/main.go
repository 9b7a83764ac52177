package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/netwarden/internal/runner"
)

func main() {
	options := runner.ParseOptions()
	wardenRunner, err := runner.NewRunner(options)
	if err != nil {
		gologger.Fatal().Msgf("Could not create runner: %s\n", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// restore every device before exiting
	go func() {
		<-c
		fmt.Println("\r- Ctrl+C pressed in Terminal, restoring devices...")
		cancel()
	}()

	err = wardenRunner.Run(ctx)
	wardenRunner.Close()
	if err != nil {
		gologger.Fatal().Msgf("Could not run netwarden: %s\n", err)
	}
}
