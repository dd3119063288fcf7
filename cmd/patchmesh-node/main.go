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
patchmesh-node runs a single module in the patch fabric: it loads
config, joins the control multicast group, optionally advertises
itself over mDNS, and drives the Tick Loop until interrupted.

Without a -config file, patchmesh-node runs standalone with
DefaultConfig and a NoopHandler, participating in elections and
aggregation but declaring no jacks of its own. Real instruments wire
their own EventHandler in a fork of this command.

Usage:
    patchmesh-node -config node.toml
    patchmesh-node -node-id osc-a -control-group 239.0.0.1 -control-port 19874
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patchmesh/internal/config"
	"patchmesh/internal/discovery"
	"patchmesh/internal/logging"
	"patchmesh/internal/module"
)

const copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."

func main() {
	configFile := flag.String("config", "", "Path to a node config file")
	nodeID := flag.String("node-id", "", "Override node_id")
	controlGroup := flag.String("control-group", "", "Override control_group")
	controlPort := flag.Int("control-port", 0, "Override control_port")
	mdnsEnabled := flag.Bool("mdns", false, "Advertise this module over mDNS")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("patchmesh-node v%s\n%s\n", discovery.Version, copyright)
		os.Exit(0)
	}

	mgr := config.Global()
	if *configFile != "" {
		if err := mgr.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", *configFile, err)
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *controlGroup != "" {
		cfg.ControlGroup = *controlGroup
	}
	if *controlPort != 0 {
		cfg.ControlPort = *controlPort
	}
	if *mdnsEnabled {
		cfg.MDNSEnabled = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("patchmesh-node").With("node_id", cfg.NodeID)

	m, err := module.New(cfg, module.NoopHandler{}, logger)
	if err != nil {
		logger.Error("failed to construct module", "error", err.Error())
		os.Exit(1)
	}
	defer m.Stop()

	disc := discovery.NewDiscoveryService(discovery.DiscoveryConfig{
		ModuleID:     cfg.NodeID,
		DisplayName:  cfg.DisplayName,
		ControlGroup: cfg.ControlGroup,
		ControlPort:  cfg.ControlPort,
		ServiceName:  cfg.MDNSServiceName,
		Enabled:      cfg.MDNSEnabled,
	})
	if err := disc.Advertise(); err != nil {
		logger.Warn("mDNS advertisement failed", "error", err.Error())
	}
	defer disc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	eg, err := m.Start(ctx, now)
	if err != nil {
		logger.Error("failed to start module", "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("module started", "control", fmt.Sprintf("%s:%d", cfg.ControlGroup, cfg.ControlPort))

	tickPeriod := time.Second / time.Duration(cfg.PacketRate)
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info("shutting down")
			cancel()
			eg.Wait()
			return
		case t := <-ticker.C:
			m.Tick(t)
			if m.IsHalted() {
				logger.Info("module halted, shutting down")
				cancel()
				eg.Wait()
				return
			}
		}
	}
}
