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
Package discovery advertises and browses for patchmesh modules on the
local network via mDNS, so an operator can find a node's control
multicast endpoint without out-of-band configuration.
*/
package discovery

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultServiceName is the mDNS service type patchmesh advertises
// under and browses for.
const DefaultServiceName = "_patchmesh._udp.local."

// DiscoveryConfig controls whether and how a module advertises itself.
type DiscoveryConfig struct {
	ModuleID     string
	DisplayName  string
	ControlGroup string
	ControlPort  int
	ServiceName  string
	Enabled      bool
}

func (c DiscoveryConfig) serviceName() string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	return DefaultServiceName
}

// DiscoveredNode is one module found on the network.
type DiscoveredNode struct {
	ModuleID     string
	DisplayName  string
	ControlGroup string
	ControlPort  int
	Host         string
	Version      string
}

// DiscoveryService advertises this module (if Enabled) and can browse for peers.
type DiscoveryService struct {
	cfg    DiscoveryConfig
	server *mdns.Server
}

// NewDiscoveryService constructs a DiscoveryService. If cfg.Enabled,
// call Advertise to start responding to mDNS queries; Advertise is
// separate from construction so callers can decide when the module is
// ready to be found.
func NewDiscoveryService(cfg DiscoveryConfig) *DiscoveryService {
	return &DiscoveryService{cfg: cfg}
}

// Advertise registers an mDNS responder for this module. A no-op if
// discovery is disabled in the config.
func (s *DiscoveryService) Advertise() error {
	if !s.cfg.Enabled {
		return nil
	}
	info := []string{
		"module_id=" + s.cfg.ModuleID,
		"display_name=" + s.cfg.DisplayName,
		"control_group=" + s.cfg.ControlGroup,
		"control_port=" + strconv.Itoa(s.cfg.ControlPort),
		"version=" + Version,
	}
	service, err := mdns.NewMDNSService(
		s.cfg.ModuleID,
		s.cfg.serviceName(),
		"", "",
		s.cfg.ControlPort,
		nil,
		info,
	)
	if err != nil {
		return err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return err
	}
	s.server = server
	return nil
}

// Close shuts down the mDNS responder, if one is running.
func (s *DiscoveryService) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown()
}

// DiscoverNodes browses the network for patchmesh modules for up to
// timeout, returning every distinct module seen.
func (s *DiscoveryService) DiscoverNodes(timeout time.Duration) ([]*DiscoveredNode, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	seen := make(map[string]*DiscoveredNode)
	var order []string

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			n := parseEntry(e)
			if n == nil {
				continue
			}
			if _, ok := seen[n.ModuleID]; !ok {
				order = append(order, n.ModuleID)
			}
			seen[n.ModuleID] = n
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service: s.cfg.serviceName(),
		Timeout: timeout,
		Entries: entries,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, err
	}

	out := make([]*DiscoveredNode, 0, len(order))
	for _, id := range order {
		out = append(out, seen[id])
	}
	return out, nil
}

func parseEntry(e *mdns.ServiceEntry) *DiscoveredNode {
	n := &DiscoveredNode{Host: e.Host, ControlPort: e.Port}
	for _, field := range e.InfoFields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "module_id":
			n.ModuleID = kv[1]
		case "display_name":
			n.DisplayName = kv[1]
		case "control_group":
			n.ControlGroup = kv[1]
		case "control_port":
			if p, err := strconv.Atoi(kv[1]); err == nil {
				n.ControlPort = p
			}
		case "version":
			n.Version = kv[1]
		}
	}
	if n.ModuleID == "" {
		return nil
	}
	return n
}

// Version is advertised in each module's mDNS TXT record.
const Version = "1.0.0"
