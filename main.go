package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kong/agentchat/internal/cmd/root"
	"github.com/kong/agentchat/internal/iostreams"
)

func registerSignalHandler(streams *iostreams.IOStreams) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		sig := <-sigs
		fmt.Fprintln(streams.ErrOut, "received", sig, ", terminating...")
		cancel()
	}()
	return ctx
}

func main() {
	streams := iostreams.GetOSIOStreams()
	ctx := registerSignalHandler(streams)
	root.Execute(ctx, streams)
}
