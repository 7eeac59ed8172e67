// Package interactive provides the interactive command-line interface
// for the WISP mesh simulator.
package interactive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/wisp-protocol/wisp-go/internal/simnet"
	"github.com/wisp-protocol/wisp-go/pkg/log"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/node"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// Config holds console configuration.
type Config struct {
	// Nodes is the number of nodes created at startup.
	Nodes int

	// Verbose enables engine event logging.
	Verbose bool

	// NetworkName is used by nodes that start their own partition.
	NetworkName string
}

// Console is the interactive simulator shell.
type Console struct {
	cfg   Config
	rl    *readline.Instance
	net   *simnet.Network
	nodes map[string]*node.Node
	order []string
}

// New creates the console and its startup nodes.
func New(cfg Config) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wisp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{
		cfg:   cfg,
		rl:    rl,
		net:   simnet.New(nil),
		nodes: make(map[string]*node.Node),
	}

	for i := 0; i < cfg.Nodes; i++ {
		if _, err := c.addNode(fmt.Sprintf("%016x", i+1)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// addNode creates one node on the shared network.
func (c *Console) addNode(hexAddr string) (*node.Node, error) {
	ext, err := mesh.ParseExtAddress(hexAddr)
	if err != nil {
		return nil, err
	}
	if _, exists := c.nodes[ext.String()]; exists {
		return nil, fmt.Errorf("node %s already exists", ext)
	}

	var logger log.Logger = log.NoopLogger{}
	if c.cfg.Verbose {
		handler := slog.NewTextHandler(c.rl.Stderr(), &slog.HandlerOptions{Level: slog.LevelDebug})
		logger = log.NewSlogAdapter(slog.New(handler))
	}

	port := c.net.Port(ext)
	n, err := node.New(node.Config{
		ExtAddress:  ext,
		NetworkName: mesh.NetworkName(c.cfg.NetworkName),
		LinkMode: mesh.LinkMode{
			RxOnWhenIdle:       true,
			FullFunctionDevice: true,
			FullNetworkData:    true,
		},
		Radio:     port,
		Transport: port,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	port.Bind(n)

	c.nodes[ext.String()] = n
	c.order = append(c.order, ext.String())
	return n, nil
}

// resolve finds a node by extended-address prefix.
func (c *Console) resolve(arg string) (*node.Node, string, error) {
	var matches []string
	for _, id := range c.order {
		if strings.HasPrefix(id, strings.ToLower(arg)) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return c.nodes[matches[0]], matches[0], nil
	case 0:
		return nil, "", fmt.Errorf("no node matches %q", arg)
	default:
		return nil, "", fmt.Errorf("%q is ambiguous (%d matches)", arg, len(matches))
	}
}

func (c *Console) out() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "add":
			c.cmdAdd(args)

		case "status", "s":
			c.cmdStatus()

		case "enable", "en":
			c.withNode(args, func(n *node.Node) error { return n.Enable() })

		case "disable", "dis":
			c.withNode(args, func(n *node.Node) error { return n.Disable() })

		case "scan":
			c.cmdScan(args)

		case "reattach":
			c.cmdReattach(args)

		case "register", "reg":
			c.cmdRegister(args)

		case "withdraw", "wd":
			c.cmdWithdraw(args)

		case "netdata", "nd":
			c.cmdNetData(args)

		case "neighbors", "nb":
			c.cmdNeighbors(args)

		case "counters":
			c.cmdCounters(args)

		case "keyseq":
			c.cmdKeySeq(args)

		case "down":
			c.cmdReachable(args, true)

		case "up":
			c.cmdReachable(args, false)

		case "quit", "exit", "q":
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.out(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out(), `
WISP Simulator Commands:
  Nodes:
    add [hex16]            - Add a node (extended address, 16 hex chars)
    status                 - Show every node's role, addresses, partition
    enable <id>            - Enable a node (starts the attach cycle)
    disable <id>           - Disable a node
    down <id> / up <id>    - Make a node unreachable / reachable

  Mesh:
    scan <id>              - Run a beacon scan and print the results
    reattach <id> <f>      - Start an attach cycle (f: any|same|better)
    neighbors <id>         - List a node's neighbor table
    keyseq <id> <n>        - Rotate the key sequence (leader only)

  Network Data:
    register <id> <prefix> [stable] - Register a border-router prefix
    withdraw <id> <prefix>          - Withdraw a registered prefix
    netdata <id>                    - Show the merged network-data view

  Diagnostics:
    counters <id>          - Show MAC counters

  General:
    help                   - Show this help
    quit                   - Exit

  <id> is an extended-address prefix, e.g. "0000000000000001" or "00".`)
}

func (c *Console) withNode(args []string, fn func(*node.Node) error) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: <command> <id>")
		return
	}
	n, _, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	if err := fn(n); err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out(), "OK")
}

func (c *Console) cmdAdd(args []string) {
	hexAddr := fmt.Sprintf("%016x", len(c.order)+1)
	if len(args) > 0 {
		hexAddr = args[0]
	}
	n, err := c.addNode(hexAddr)
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out(), "Added node %s\n", n.Identity().ExtAddress)
}

func (c *Console) cmdStatus() {
	fmt.Fprintf(c.out(), "\n%-18s %-9s %-7s %-12s %-8s %s\n",
		"EXT ADDRESS", "ROLE", "SHORT", "PARTITION", "NETDATA", "NEIGHBORS")
	fmt.Fprintln(c.out(), strings.Repeat("-", 68))
	for _, id := range c.order {
		n := c.nodes[id]
		ident := n.Identity()

		short := "-"
		if ident.ShortAddress.Valid() {
			short = fmt.Sprintf("%#04x", uint16(ident.ShortAddress))
		}
		part := "-"
		if p, ok := n.Partition(); ok {
			part = p.String()
		}
		version, stable := n.NetDataVersions()

		fmt.Fprintf(c.out(), "%-18s %-9s %-7s %-12s %2d/%-5d %d\n",
			id, n.Role(), short, part, version, stable, len(n.Neighbors()))
	}
	fmt.Fprintln(c.out())
}

func (c *Console) cmdScan(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: scan <id>")
		return
	}
	n, id, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}

	_, err = n.Scan(scan.AllChannels(), func(results []scan.Result, err error) {
		w := c.out()
		if err != nil {
			fmt.Fprintf(w, "\nScan on %s failed: %v\n", id, err)
			return
		}
		fmt.Fprintf(w, "\nScan on %s: %d result(s)\n", id, len(results))
		for _, r := range results {
			fmt.Fprintf(w, "  %s  net=%q ch=%d rssi=%d lqi=%d partition=%s joinable=%t\n",
				r.ExtAddress, string(r.NetworkName), r.Channel, r.RSSI, r.LQI,
				r.Partition, r.Joinable)
		}
	})
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out(), "Scanning...")
}

func (c *Console) cmdReattach(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out(), "Usage: reattach <id> any|same|better")
		return
	}
	var filter mesh.AttachFilter
	switch strings.ToLower(args[1]) {
	case "any":
		filter = mesh.AttachAnyPartition
	case "same":
		filter = mesh.AttachSamePartition
	case "better":
		filter = mesh.AttachBetterPartition
	default:
		fmt.Fprintf(c.out(), "Unknown filter: %s\n", args[1])
		return
	}
	c.withNode(args[:1], func(n *node.Node) error { return n.Reattach(filter) })
}

func (c *Console) cmdRegister(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out(), "Usage: register <id> <prefix> [stable]")
		fmt.Fprintln(c.out(), "  Example: register 00 fd00:cafe::/64 stable")
		return
	}
	prefix, err := mesh.ParsePrefix(args[1])
	if err != nil {
		fmt.Fprintf(c.out(), "Invalid prefix: %v\n", err)
		return
	}
	stable := len(args) > 2 && strings.EqualFold(args[2], "stable")

	c.withNode(args[:1], func(n *node.Node) error {
		return n.RegisterPrefix(wire.NetDataEntry{
			Key:          wire.NetDataKey{Prefix: prefix},
			Preference:   0,
			Stable:       stable,
			BorderRouter: true,
			SlaacValid:   true,
			DefaultRoute: true,
		})
	})
}

func (c *Console) cmdWithdraw(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out(), "Usage: withdraw <id> <prefix>")
		return
	}
	prefix, err := mesh.ParsePrefix(args[1])
	if err != nil {
		fmt.Fprintf(c.out(), "Invalid prefix: %v\n", err)
		return
	}
	c.withNode(args[:1], func(n *node.Node) error { return n.WithdrawPrefix(prefix) })
}

func (c *Console) cmdNetData(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: netdata <id>")
		return
	}
	n, id, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}

	version, stable := n.NetDataVersions()
	view := n.NetworkData()
	fmt.Fprintf(c.out(), "\nNetwork data on %s (version %d, stable %d):\n", id, version, stable)
	if len(view) == 0 {
		fmt.Fprintln(c.out(), "  (empty)")
		return
	}
	for _, row := range view {
		var flags []string
		if row.Stable {
			flags = append(flags, "stable")
		}
		if row.BorderRouter {
			flags = append(flags, "br")
		}
		if row.DefaultRoute {
			flags = append(flags, "default")
		}
		if row.Dhcp {
			flags = append(flags, "dhcp")
		}
		fmt.Fprintf(c.out(), "  %-28s pref=%d origins=%d %s\n",
			row.Prefix, row.Preference, row.Origins, strings.Join(flags, ","))
	}
}

func (c *Console) cmdNeighbors(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: neighbors <id>")
		return
	}
	n, id, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}

	entries := n.Neighbors()
	fmt.Fprintf(c.out(), "\nNeighbors of %s (%d):\n", id, len(entries))
	for _, e := range entries {
		fmt.Fprintf(c.out(), "  %s  %#04x %-6s last-seen %s\n",
			e.ExtAddress, uint16(e.ShortAddress), e.Kind, e.LastSeen.Format("15:04:05"))
	}
}

func (c *Console) cmdCounters(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: counters <id>")
		return
	}
	n, id, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}

	snap := n.Counters().Snapshot()
	rows := []struct {
		name  string
		value uint32
	}{
		{"TxTotal", snap.TxTotal},
		{"TxAcked", snap.TxAcked},
		{"TxData", snap.TxData},
		{"TxBeacon", snap.TxBeacon},
		{"TxBeaconRequest", snap.TxBeaconRequest},
		{"TxErrCca", snap.TxErrCca},
		{"RxTotal", snap.RxTotal},
		{"RxData", snap.RxData},
		{"RxBeacon", snap.RxBeacon},
		{"RxErrOther", snap.RxErrOther},
	}

	fmt.Fprintf(c.out(), "\nCounters for %s:\n", id)
	for _, r := range rows {
		fmt.Fprintf(c.out(), "  %-18s %d\n", r.name, r.value)
	}
}

func (c *Console) cmdKeySeq(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out(), "Usage: keyseq <id> <n>")
		return
	}
	seq, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out(), "Invalid key sequence: %v\n", err)
		return
	}
	c.withNode(args[:1], func(n *node.Node) error { return n.SetKeySequence(uint32(seq)) })
}

func (c *Console) cmdReachable(args []string, down bool) {
	if len(args) < 1 {
		fmt.Fprintln(c.out(), "Usage: down|up <id>")
		return
	}
	n, _, err := c.resolve(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	c.net.SetDown(n.Identity().ExtAddress, down)
	fmt.Fprintln(c.out(), "OK")
}
