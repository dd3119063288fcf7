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

package discovery

import (
	"testing"

	"github.com/hashicorp/mdns"
)

func TestServiceNameDefaultsWhenUnset(t *testing.T) {
	cfg := DiscoveryConfig{}
	if cfg.serviceName() != DefaultServiceName {
		t.Fatalf("expected default service name, got %q", cfg.serviceName())
	}

	cfg.ServiceName = "_custom._udp.local."
	if cfg.serviceName() != "_custom._udp.local." {
		t.Fatalf("expected custom service name to override default, got %q", cfg.serviceName())
	}
}

func TestParseEntryExtractsFields(t *testing.T) {
	e := &mdns.ServiceEntry{
		Host: "node-a.local.",
		Port: 19874,
		InfoFields: []string{
			"module_id=mod-a",
			"display_name=Oscillator A",
			"control_group=239.0.0.5",
			"control_port=19875",
			"version=1.0.0",
		},
	}

	n := parseEntry(e)
	if n == nil {
		t.Fatal("expected a non-nil DiscoveredNode")
	}
	if n.ModuleID != "mod-a" || n.DisplayName != "Oscillator A" || n.ControlGroup != "239.0.0.5" {
		t.Fatalf("unexpected parsed fields: %+v", n)
	}
	if n.ControlPort != 19875 {
		t.Fatalf("expected control_port field to override entry port, got %d", n.ControlPort)
	}
	if n.Version != "1.0.0" {
		t.Fatalf("expected version field to be parsed, got %q", n.Version)
	}
}

func TestParseEntryRejectsMissingModuleID(t *testing.T) {
	e := &mdns.ServiceEntry{InfoFields: []string{"display_name=no id here"}}
	if parseEntry(e) != nil {
		t.Fatal("expected nil for an entry with no module_id field")
	}
}

func TestParseEntryIgnoresMalformedFields(t *testing.T) {
	e := &mdns.ServiceEntry{
		Port:       5000,
		InfoFields: []string{"module_id=mod-b", "garbage-without-equals", "control_port=not-a-number"},
	}
	n := parseEntry(e)
	if n == nil || n.ModuleID != "mod-b" {
		t.Fatalf("expected malformed fields to be skipped, got %+v", n)
	}
	if n.ControlPort != 5000 {
		t.Fatalf("expected entry port to survive an unparsable control_port field, got %d", n.ControlPort)
	}
}

func TestAdvertiseDisabledIsNoop(t *testing.T) {
	s := NewDiscoveryService(DiscoveryConfig{ModuleID: "mod-a", Enabled: false})
	if err := s.Advertise(); err != nil {
		t.Fatalf("expected disabled Advertise to be a no-op, got error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected Close on a never-advertised service to be a no-op, got error: %v", err)
	}
}
