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
Package preset implements the Preset Subsystem: gathering per-module
opaque snapshots plus patch topology on request, bundling them into a
SetPreset, and reconciling jack connections when one arrives.
*/
package preset

import (
	"strconv"
	"sync"
	"time"

	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
	"patchmesh/internal/logging"
)

// GatherPolicy controls how many SnapshotResponses a gather round waits
// for before bundling them into a SetPreset.
type GatherPolicy int

const (
	// Eventual finalizes as soon as a single response has arrived.
	Eventual GatherPolicy = iota
	// Quorum finalizes once a majority of known peers have responded.
	Quorum
	// All waits for every known peer to respond.
	All
)

func (p GatherPolicy) String() string {
	switch p {
	case Eventual:
		return "eventual"
	case Quorum:
		return "quorum"
	case All:
		return "all"
	default:
		return "quorum"
	}
}

// ParseGatherPolicy parses the config-file/env string form, defaulting
// to Quorum for an unrecognized value.
func ParseGatherPolicy(s string) GatherPolicy {
	switch s {
	case "eventual":
		return Eventual
	case "all":
		return All
	default:
		return Quorum
	}
}

// Collaborator is the subset of the EventHandler surface the Preset
// Subsystem drives directly.
type Collaborator interface {
	GetSnapshot() []byte
	SetSnapshot(data []byte)
	ReceivedSnapshot(sender string, payload []byte)
}

// Broadcaster sends a directive to every module on the control channel.
type Broadcaster interface {
	Broadcast(d directive.Directive) error
}

type gatherRound struct {
	responses     map[string]directive.SnapshotResponse
	order         []string
	requiredPeers int
	deadline      time.Time
}

// Subsystem is the Preset Subsystem for one module.
type Subsystem struct {
	mu                    sync.Mutex
	moduleID              string
	registry              *jack.Registry
	collaborator          Collaborator
	broadcaster           Broadcaster
	policy                GatherPolicy
	compressionThreshold  int
	gatherTimeout         time.Duration
	gather                *gatherRound
	logger                *logging.Logger
}

// New constructs a Subsystem bound to registry for local jack
// reconciliation and collaborator for opaque snapshot I/O.
func New(moduleID string, registry *jack.Registry, collaborator Collaborator, broadcaster Broadcaster, policy GatherPolicy, compressionThreshold int, gatherTimeout time.Duration, logger *logging.Logger) *Subsystem {
	if logger == nil {
		logger = logging.NewLogger("preset")
	}
	return &Subsystem{
		moduleID:             moduleID,
		registry:             registry,
		collaborator:         collaborator,
		broadcaster:          broadcaster,
		policy:               policy,
		compressionThreshold: compressionThreshold,
		gatherTimeout:        gatherTimeout,
		logger:               logger,
	}
}

// CompressionFlag returns FlagCompressed when payloadLen meets the
// configured compression threshold, else 0.
func (s *Subsystem) CompressionFlag(payloadLen int) directive.Flag {
	if s.compressionThreshold > 0 && payloadLen >= s.compressionThreshold {
		return directive.FlagCompressed
	}
	return 0
}

// patchedConnections gathers every PatchConnection this module
// currently participates in, on either side.
func (s *Subsystem) patchedConnections() []directive.PatchConnection {
	var out []directive.PatchConnection
	for _, in := range s.registry.Inputs() {
		if in.IsConnected() {
			out = append(out, directive.PatchConnection{
				Input:  jack.Endpoint{ModuleID: s.moduleID, JackID: in.ID},
				Output: in.Source.Source,
			})
		}
	}
	for _, o := range s.registry.Outputs() {
		for _, sub := range o.Subscribers() {
			out = append(out, directive.PatchConnection{
				Input:  sub,
				Output: jack.Endpoint{ModuleID: s.moduleID, JackID: o.ID},
			})
		}
	}
	return out
}

// HandleSnapshotRequest builds this module's reply to a SnapshotRequest.
func (s *Subsystem) HandleSnapshotRequest(req directive.SnapshotRequest) directive.SnapshotResponse {
	return directive.SnapshotResponse{
		UUID:    s.moduleID,
		Data:    s.collaborator.GetSnapshot(),
		Patched: s.patchedConnections(),
	}
}

// StartGather broadcasts a SnapshotRequest and begins accumulating
// replies toward a SetPreset, to be finalized by Tick once the
// configured GatherPolicy is satisfied or gatherTimeout elapses.
// requiredPeers is the number of modules expected to reply, including
// this one.
func (s *Subsystem) StartGather(now time.Time, requiredPeers int) {
	s.mu.Lock()
	s.gather = &gatherRound{
		responses:     make(map[string]directive.SnapshotResponse),
		requiredPeers: requiredPeers,
		deadline:      now.Add(s.gatherTimeout),
	}
	s.mu.Unlock()

	s.broadcaster.Broadcast(directive.SnapshotRequest{UUID: directive.GlobalSentinel})
}

// HandleSnapshotResponse forwards the response to the collaborator
// (every module on the wire does this, not only the gatherer) and, if
// a gather round is active locally, records it toward completion.
func (s *Subsystem) HandleSnapshotResponse(resp directive.SnapshotResponse) {
	s.collaborator.ReceivedSnapshot(resp.UUID, resp.Data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gather == nil {
		return
	}
	if _, seen := s.gather.responses[resp.UUID]; !seen {
		s.gather.order = append(s.gather.order, resp.UUID)
	}
	s.gather.responses[resp.UUID] = resp
}

func (s *Subsystem) policySatisfiedLocked(g *gatherRound) bool {
	count := len(g.responses)
	switch s.policy {
	case Eventual:
		return count >= 1
	case All:
		return g.requiredPeers > 0 && count >= g.requiredPeers
	default: // Quorum
		return g.requiredPeers > 0 && count*2 > g.requiredPeers
	}
}

// Tick finalizes the active gather round, if any, once its policy is
// satisfied or its deadline has passed, broadcasting the bundled
// SetPreset. Called once per Tick Loop pass.
func (s *Subsystem) Tick(now time.Time) {
	s.mu.Lock()
	g := s.gather
	if g == nil {
		s.mu.Unlock()
		return
	}
	if !s.policySatisfiedLocked(g) && now.Before(g.deadline) {
		s.mu.Unlock()
		return
	}
	entries := make([]directive.PresetEntry, 0, len(g.order))
	for _, id := range g.order {
		resp := g.responses[id]
		entries = append(entries, directive.PresetEntry{UUID: resp.UUID, Data: resp.Data, Patched: resp.Patched})
	}
	s.gather = nil
	s.mu.Unlock()

	s.logger.Info("gather round complete", "entries", strconv.Itoa(len(entries)))
	s.broadcaster.Broadcast(directive.SetPreset{UUID: directive.GlobalSentinel, Data: entries})
}

// HandleSetPreset applies the bundle if it names this module, then
// reconciles jack topology per spec §4.7: disconnect inputs absent
// from or re-sourced by the preset, clear all outputs and reconnect
// each listed subscriber, announcing each via SetInputJack so the
// remote input binds the multicast endpoint. A module with no matching
// entry clears all of its jacks instead.
func (s *Subsystem) HandleSetPreset(sp directive.SetPreset) {
	var mine *directive.PresetEntry
	for i := range sp.Data {
		if sp.Data[i].UUID == s.moduleID {
			mine = &sp.Data[i]
			break
		}
	}
	if mine == nil {
		s.registry.DisconnectAllInputs()
		s.registry.ClearAllOutputs()
		return
	}

	s.collaborator.SetSnapshot(mine.Data)

	desired := make(map[string]jack.Endpoint)
	for _, pc := range mine.Patched {
		if pc.Input.ModuleID == s.moduleID {
			desired[pc.Input.JackID] = pc.Output
		}
	}
	for _, in := range s.registry.Inputs() {
		if !in.IsConnected() {
			continue
		}
		want, ok := desired[in.ID]
		if !ok || want != in.Source.Source {
			s.registry.DisconnectInput(in.ID)
		}
	}

	s.registry.ClearAllOutputs()
	for _, pc := range mine.Patched {
		if pc.Output.ModuleID != s.moduleID {
			continue
		}
		out := s.registry.Output(pc.Output.JackID)
		if out == nil {
			continue
		}
		s.registry.AddSubscriber(out.ID, pc.Input)
		s.broadcaster.Broadcast(directive.SetInputJack{
			UUID: pc.Input.ModuleID,
			Source: jack.HeldOutput{
				Endpoint: jack.Endpoint{ModuleID: s.moduleID, JackID: out.ID},
				Group:    out.Group,
				Port:     out.Port,
				Hue:      out.Hue,
			},
			Connection: pc,
		})
	}
}

// HandleSetInputJack connects the named input to the announced remote
// output, if this module owns it.
func (s *Subsystem) HandleSetInputJack(sij directive.SetInputJack) bool {
	if sij.UUID != s.moduleID {
		return false
	}
	return s.registry.ConnectInput(sij.Connection.Input.JackID, jack.RemoteEndpoint{
		Group:  sij.Source.Group,
		Port:   sij.Source.Port,
		Hue:    sij.Source.Hue,
		Source: sij.Source.Endpoint,
	})
}

// HandleSetOutputJack adds the announced remote input as a subscriber
// of the named output, if this module owns it — the mirror image of
// HandleSetInputJack.
func (s *Subsystem) HandleSetOutputJack(soj directive.SetOutputJack) bool {
	if soj.UUID != s.moduleID {
		return false
	}
	return s.registry.AddSubscriber(soj.Connection.Output.JackID, soj.Connection.Input)
}
