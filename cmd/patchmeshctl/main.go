/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
patchmeshctl is the operator CLI for a running patch fabric. It joins
the control multicast channel as a passive (non-voting) listener,
decodes the same directive traffic every module sees, and can send a
small set of administrative directives of its own (Halt,
SnapshotRequest).

Usage:
    patchmeshctl status
    patchmeshctl jacks
    patchmeshctl patch
    patchmeshctl halt [module-id]
    patchmeshctl snapshot
    patchmeshctl repl
*/
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/net/ipv4"

	"patchmesh/internal/config"
	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
	"patchmesh/pkg/cli"
)

// client is a passive participant on the control multicast channel: it
// observes the same directive traffic every module sees and can send
// administrative directives of its own.
type client struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func dial(group string, port int) (*client, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: net.ParseIP(group)}); err != nil {
		conn.Close()
		return nil, err
	}
	return &client{conn: conn, addr: &net.UDPAddr{IP: net.ParseIP(group), Port: port}}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) send(d directive.Directive) error {
	buf, err := directive.Encode(d, 0)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(buf, c.addr)
	return err
}

// collect listens for up to timeout, invoking handle for every directive
// successfully decoded off the wire.
func (c *client) collect(timeout time.Duration, handle func(directive.Directive)) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 65536)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		c.conn.SetReadDeadline(time.Now().Add(remaining))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}
		_, d, ok, err := directive.Decode(buf[:n])
		if err != nil || !ok {
			continue
		}
		handle(d)
	}
}

var (
	flagGroup   string
	flagPort    int
	flagTimeout time.Duration
)

func main() {
	defaults := config.DefaultConfig()
	flag.StringVar(&flagGroup, "control-group", defaults.ControlGroup, "Control multicast group")
	flag.IntVar(&flagPort, "control-port", defaults.ControlPort, "Control multicast port")
	flag.DurationVar(&flagTimeout, "timeout", 1500*time.Millisecond, "How long to listen before reporting")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "status":
		runStatus()
	case "jacks":
		runJacks()
	case "patch":
		runPatch()
	case "halt":
		target := directive.GlobalSentinel
		if len(rest) > 0 {
			target = rest[0]
		}
		runHalt(target)
	case "snapshot":
		runSnapshot()
	case "repl":
		runRepl()
	case "help", "-h", "--help":
		printUsage()
	default:
		cli.ErrInvalidCommand(cmd).Print()
		os.Exit(1)
	}
}

func printUsage() {
	h := cli.NewHelpFormatter("patchmeshctl", "1.0.0")
	h.AddCommand(cli.Command{Name: "status", Description: "Show observed coordinator role, term, and global patch state"})
	h.AddCommand(cli.Command{Name: "jacks", Description: "List patch connections reported by every module's snapshot"})
	h.AddCommand(cli.Command{Name: "patch", Description: "Show currently held jacks and the global patch classification"})
	h.AddCommand(cli.Command{Name: "halt", Description: "Send a Halt directive (defaults to every module)"})
	h.AddCommand(cli.Command{Name: "snapshot", Description: "Request and summarize a preset snapshot round"})
	h.AddCommand(cli.Command{Name: "repl", Description: "Start an interactive session"})
	h.PrintUsage()
}

func mustDial() *client {
	c, err := dial(flagGroup, flagPort)
	if err != nil {
		cli.ErrConnectionFailed(flagGroup, fmt.Sprintf("%d", flagPort), err).Exit()
	}
	return c
}

func runStatus() {
	c := mustDial()
	defer c.Close()

	var leaderID string
	var term uint64
	patchState := jack.Idle
	seen := map[string]bool{}

	spinner := cli.NewSpinner(fmt.Sprintf("Listening on %s:%d...", flagGroup, flagPort))
	spinner.Start()
	c.collect(flagTimeout, func(d directive.Directive) {
		switch v := d.(type) {
		case directive.Heartbeat:
			leaderID = v.UUID
			term = v.Term
			seen[v.UUID] = true
		case directive.HeartbeatResponse:
			seen[v.UUID] = true
		case directive.Update:
			seen[v.UUID] = true
		case directive.GlobalStateUpdate:
			patchState = v.PatchState
		}
	})
	spinner.Stop()

	if leaderID == "" {
		cli.ErrNoLeader().Print()
	}

	cli.KeyValue("Leader", orNone(leaderID), 20)
	cli.KeyValue("Term", fmt.Sprintf("%d", term), 20)
	cli.KeyValue("Global patch state", patchState.String(), 20)
	cli.KeyValue("Modules observed", fmt.Sprintf("%d", len(seen)), 20)
}

func runPatch() {
	c := mustDial()
	defer c.Close()

	held := map[string]jack.LocalState{}
	patchState := jack.Idle

	c.collect(flagTimeout, func(d directive.Directive) {
		switch v := d.(type) {
		case directive.Update:
			held[v.UUID] = v.State
		case directive.GlobalStateUpdate:
			patchState = v.PatchState
		}
	})

	cli.PrintInfo("Global patch state: %s", patchState.String())

	t := cli.NewTable("MODULE", "HELD INPUTS", "HELD OUTPUTS")
	ids := sortedKeys(held)
	for _, id := range ids {
		s := held[id]
		t.AddRow(id, fmt.Sprintf("%d", len(s.HeldInputs)), fmt.Sprintf("%d", len(s.HeldOutputs)))
	}
	t.Print()
}

func runJacks() {
	c := mustDial()
	defer c.Close()

	if err := c.send(directive.SnapshotRequest{UUID: directive.GlobalSentinel}); err != nil {
		cli.PrintError("failed to request snapshots: %v", err)
		os.Exit(1)
	}

	connections := map[directive.PatchConnection]bool{}
	c.collect(flagTimeout, func(d directive.Directive) {
		if resp, ok := d.(directive.SnapshotResponse); ok {
			for _, conn := range resp.Patched {
				connections[conn] = true
			}
		}
	})

	t := cli.NewTable("OUTPUT", "INPUT")
	for conn := range connections {
		t.AddRow(conn.Output.String(), conn.Input.String())
	}
	t.Print()
}

func runHalt(target string) {
	c := mustDial()
	defer c.Close()

	if target != directive.GlobalSentinel {
		if !cli.Confirm(fmt.Sprintf("Halt module %q?", target)) {
			return
		}
	} else if !cli.ConfirmDestructive("This halts every module on the fabric.", "HALT ALL") {
		return
	}

	if err := c.send(directive.Halt{UUID: target}); err != nil {
		cli.PrintError("failed to send halt: %v", err)
		os.Exit(1)
	}
	cli.PrintSuccess("Halt directive sent to %s", target)
}

func runSnapshot() {
	c := mustDial()
	defer c.Close()

	if err := c.send(directive.SnapshotRequest{UUID: directive.GlobalSentinel}); err != nil {
		cli.PrintError("failed to request snapshots: %v", err)
		os.Exit(1)
	}

	type summary struct {
		bytes int
		conns int
	}
	byModule := map[string]summary{}
	c.collect(flagTimeout, func(d directive.Directive) {
		if resp, ok := d.(directive.SnapshotResponse); ok {
			byModule[resp.UUID] = summary{bytes: len(resp.Data), conns: len(resp.Patched)}
		}
	})

	t := cli.NewTable("MODULE", "SNAPSHOT BYTES", "CONNECTIONS")
	ids := make([]string, 0, len(byModule))
	for id := range byModule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := byModule[id]
		t.AddRow(id, fmt.Sprintf("%d", s.bytes), fmt.Sprintf("%d", s.conns))
	}
	t.Print()
}

func runRepl() {
	rl, err := readline.New(cli.Highlight("patchmeshctl> "))
	if err != nil {
		cli.PrintError("failed to start REPL: %v", err)
		os.Exit(1)
	}
	defer rl.Close()

	cli.Box("patchmeshctl", fmt.Sprintf("Connected to %s:%d\nType 'help' for commands, 'quit' to exit.", flagGroup, flagPort))

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return
		case "status":
			runStatus()
		case "jacks":
			runJacks()
		case "patch":
			runPatch()
		case "snapshot":
			runSnapshot()
		case "halt":
			target := directive.GlobalSentinel
			if len(fields) > 1 {
				target = fields[1]
			}
			runHalt(target)
		case "help":
			printUsage()
		default:
			cli.ErrInvalidCommand(fields[0]).Print()
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none observed)"
	}
	return s
}

func sortedKeys(m map[string]jack.LocalState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
