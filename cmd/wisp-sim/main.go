// Command wisp-sim runs an interactive multi-node WISP mesh simulation
// on an in-memory radio network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisp-protocol/wisp-go/cmd/wisp-sim/interactive"
)

func main() {
	nodes := flag.Int("nodes", 3, "number of nodes to create at startup")
	verbose := flag.Bool("v", false, "log engine events to stderr")
	network := flag.String("network", "wisp-sim", "network name for self-started partitions")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	console, err := interactive.New(interactive.Config{
		Nodes:       *nodes,
		Verbose:     *verbose,
		NetworkName: *network,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wisp-sim: %v\n", err)
		os.Exit(1)
	}

	console.Run(ctx, cancel)
}
