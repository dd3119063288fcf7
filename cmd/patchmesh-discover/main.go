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
patchmesh-discover - Patch Fabric Node Discovery Tool

Discovers patchmesh modules on the local network using mDNS
(Bonjour/Avahi). Useful for finding a fabric's control group/port
before pointing patchmeshctl at it.

Usage:
    patchmesh-discover                  # discover nodes (5 second timeout)
    patchmesh-discover --timeout 10     # custom timeout in seconds
    patchmesh-discover --json           # output as JSON
    patchmesh-discover --quiet          # only output control addresses
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"patchmesh/internal/discovery"
)

const copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output control addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output control addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Suppress mDNS library logging (it logs IPv6 errors that are not critical).
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
	}

	svc := discovery.NewDiscoveryService(discovery.DiscoveryConfig{
		ModuleID: "discover-client",
		Enabled:  false, // don't advertise, just discover
	})

	if !*quiet && !*jsonOutput {
		fmt.Printf("%s%sℹ%s Scanning for patchmesh modules on the network (timeout: %ds)...\n\n",
			cyan, bold, reset, *timeout)
	}

	nodes, err := svc.DiscoverNodes(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s%s✗%s Discovery failed: %v\n", red, bold, reset, err)
		}
		os.Exit(1)
	}

	if len(nodes) == 0 {
		if !*quiet && !*jsonOutput {
			fmt.Printf("%s%s⚠%s No patchmesh modules found on the network.\n\n", yellow, bold, reset)
			fmt.Printf("%s%sTROUBLESHOOTING%s\n\n", bold, cyan, reset)
			fmt.Printf("%s  Common issues:%s\n", dim, reset)
			fmt.Printf("    %s•%s No patchmesh-node processes are running with discovery enabled\n", yellow, reset)
			fmt.Printf("    %s•%s mDNS/Bonjour is blocked by firewall (UDP port 5353)\n", yellow, reset)
			fmt.Printf("    %s•%s Nodes are on a different network segment\n\n", yellow, reset)
			fmt.Printf("%s  Try:%s\n", dim, reset)
			fmt.Printf("    %spatchmesh-discover --timeout 10%s   # Increase timeout\n\n", green, reset)
		}
		os.Exit(0)
	}

	switch {
	case *jsonOutput:
		outputJSON(nodes)
	case *quiet:
		outputQuiet(nodes)
	default:
		outputHuman(nodes)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%s", cyan, bold)
	fmt.Println("  ██████╗  █████╗ ████████╗ ██████╗██╗  ██╗███╗   ███╗███████╗███████╗██╗  ██╗")
	fmt.Println("  ██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██║  ██║████╗ ████║██╔════╝██╔════╝██║  ██║")
	fmt.Println("  ██████╔╝███████║   ██║   ██║     ███████║██╔████╔██║█████╗  ███████╗███████║")
	fmt.Println("  ██╔═══╝ ██╔══██║   ██║   ██║     ██╔══██║██║╚██╔╝██║██╔══╝  ╚════██║██╔══██║")
	fmt.Println("  ██║     ██║  ██║   ██║   ╚██████╗██║  ██║██║ ╚═╝ ██║███████╗███████║██║  ██║")
	fmt.Println("  ╚═╝     ╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝╚═╝     ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝")
	fmt.Printf("%s\n", reset)
	fmt.Printf("  %s%spatchmesh-discover%s %sv%s%s\n", green, bold, reset, dim, discovery.Version, reset)
	fmt.Printf("  %sNetwork Module Discovery Tool%s\n\n", dim, reset)
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s%spatchmesh-discover%s %sv%s%s\n", cyan, bold, reset, dim, discovery.Version, reset)
	fmt.Printf("  %sNetwork Module Discovery Tool%s\n\n", dim, reset)
	fmt.Printf("  %s%s%s\n\n", dim, copyright, reset)
}

func printUsage() {
	printBanner()

	fmt.Printf("%s  Discovers patchmesh modules on the local network using mDNS (Bonjour/Avahi).%s\n", dim, reset)
	fmt.Printf("%s  Useful for finding a fabric's control group/port before connecting patchmeshctl.%s\n\n", dim, reset)

	fmt.Printf("%sUsage:%s patchmesh-discover [options]\n\n", bold, reset)

	fmt.Printf("%s%sOPTIONS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s--timeout%s <seconds>   Discovery timeout (default: 5)\n", green, reset)
	fmt.Printf("    %s--json%s               Output results as JSON\n", green, reset)
	fmt.Printf("    %s--quiet%s, %s-q%s          Only output control addresses (for scripting)\n", green, reset, green, reset)
	fmt.Printf("    %s--version%s, %s-v%s        Show version information\n", green, reset, green, reset)
	fmt.Printf("    %s--help%s, %s-h%s           Show this help message\n\n", green, reset, green, reset)

	fmt.Printf("%s%sEXAMPLES%s\n\n", bold, cyan, reset)
	fmt.Printf("%s    # Discover modules with default timeout%s\n", dim, reset)
	fmt.Println("    patchmesh-discover")
	fmt.Println()
	fmt.Printf("%s    # Increase timeout for slower networks%s\n", dim, reset)
	fmt.Println("    patchmesh-discover --timeout 10")
	fmt.Println()
	fmt.Printf("%s    # Get JSON output for automation%s\n", dim, reset)
	fmt.Println("    patchmesh-discover --json")
	fmt.Println()
	fmt.Printf("%s    # Get just control addresses for scripting%s\n", dim, reset)
	fmt.Println("    patchmesh-discover --quiet")
	fmt.Println()

	fmt.Printf("%s%sNETWORK REQUIREMENTS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s•%s mDNS uses UDP port 5353 (multicast)\n", yellow, reset)
	fmt.Printf("    %s•%s Modules must be on the same network segment\n", yellow, reset)
	fmt.Printf("    %s•%s Firewalls must allow mDNS and control-group multicast traffic\n\n", yellow, reset)
}

func outputJSON(nodes []*discovery.DiscoveredNode) {
	type nodeOutput struct {
		ModuleID     string `json:"module_id"`
		DisplayName  string `json:"display_name,omitempty"`
		ControlGroup string `json:"control_group"`
		ControlPort  int    `json:"control_port"`
		Host         string `json:"host,omitempty"`
		Version      string `json:"version,omitempty"`
	}

	output := make([]nodeOutput, len(nodes))
	for i, n := range nodes {
		output[i] = nodeOutput{
			ModuleID:     n.ModuleID,
			DisplayName:  n.DisplayName,
			ControlGroup: n.ControlGroup,
			ControlPort:  n.ControlPort,
			Host:         n.Host,
			Version:      n.Version,
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(nodes []*discovery.DiscoveredNode) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = fmt.Sprintf("%s:%d", n.ControlGroup, n.ControlPort)
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(nodes []*discovery.DiscoveredNode) {
	fmt.Printf("%s%s✓%s Found %d patchmesh module(s)\n\n", green, bold, reset, len(nodes))

	for i, n := range nodes {
		fmt.Printf("  %s[%d]%s %s%s%s\n",
			dim, i+1, reset,
			bold+cyan, n.ModuleID, reset)

		fmt.Printf("      %sControl Address:%s %s%s:%d%s\n",
			dim, reset,
			green, n.ControlGroup, n.ControlPort, reset)

		if n.DisplayName != "" {
			fmt.Printf("      %sDisplay Name:%s    %s\n", dim, reset, n.DisplayName)
		}
		if n.Host != "" {
			fmt.Printf("      %sHost:%s            %s\n", dim, reset, n.Host)
		}
		if n.Version != "" {
			fmt.Printf("      %sVersion:%s         %s\n", dim, reset, n.Version)
		}
		fmt.Println()
	}
}
