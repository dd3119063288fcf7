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

package module

import (
	"time"

	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
)

// handleDirective dispatches one decoded directive to its handler
// (spec §4.7).
func (m *Module) handleDirective(now time.Time, d directive.Directive) {
	switch v := d.(type) {
	case directive.Update:
		m.recordPeerState(v.UUID, v.State)
		m.coordinator.HandleUpdate(now, v)

	case directive.Halt:
		if v.UUID == directive.GlobalSentinel || v.UUID == m.id {
			m.handler.Halt()
			m.mu.Lock()
			m.halted = true
			m.mu.Unlock()
		}

	case directive.SnapshotRequest:
		resp := m.preset.HandleSnapshotRequest(v)
		m.Broadcast(resp)

	case directive.SnapshotResponse:
		m.preset.HandleSnapshotResponse(v)

	case directive.SetPreset:
		m.preset.HandleSetPreset(v)

	case directive.SetInputJack:
		m.preset.HandleSetInputJack(v)

	case directive.SetOutputJack:
		m.preset.HandleSetOutputJack(v)

	case directive.Heartbeat:
		resp := m.coordinator.HandleHeartbeat(now, v)
		m.Broadcast(resp)

	case directive.HeartbeatResponse:
		if resp := v; resp.State != nil {
			m.recordPeerState(resp.UUID, *resp.State)
		}
		m.coordinator.HandleHeartbeatResponse(now, v)

	case directive.RequestVote:
		resp := m.coordinator.HandleRequestVote(now, v)
		m.Broadcast(resp)

	case directive.RequestVoteResponse:
		m.coordinator.HandleRequestVoteResponse(v)

	case directive.GlobalStateUpdate:
		m.applyGlobalStateUpdate(v)
	}
}

// recordPeerState caches the most recent LocalState seen for a peer,
// observed passively off the shared control channel (every module sees
// every Update and HeartbeatResponse). This is how a non-leader module
// learns the multicast group/port/hue of a remote HeldOutputJack it
// needs in order to apply a PATCH_TOGGLED transition naming that peer.
func (m *Module) recordPeerState(moduleID string, state jack.LocalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peerStates[moduleID] = state
}

func (m *Module) lookupHeldOutput(ep jack.Endpoint) *jack.HeldOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.peerStates[ep.ModuleID]
	if !ok {
		return nil
	}
	for _, ho := range state.HeldOutputs {
		if ho.Endpoint == ep {
			h := ho
			return &h
		}
	}
	return nil
}

// applyGlobalStateUpdate implements the Global State Transition
// (spec §4.8).
func (m *Module) applyGlobalStateUpdate(u directive.GlobalStateUpdate) {
	if !u.Valid() {
		m.logger.Info("dropping invalid global state update", "patch_state", u.PatchState.String())
		return
	}

	m.registry.ClearPatchMembers()

	switch u.PatchState {
	case jack.PatchEnabled:
		if u.HeldInput != nil {
			m.markPatchMemberForHeldInput(*u.HeldInput)
		} else if u.HeldOutput != nil {
			m.markPatchMemberForHeldOutput(*u.HeldOutput)
		}
	case jack.PatchToggled:
		if u.HeldInput != nil && u.HeldOutput != nil {
			m.togglePatch(*u.HeldInput, *u.HeldOutput)
		}
	}

	m.handler.Patch(u.PatchState)
}

func (m *Module) markPatchMemberForHeldInput(ep jack.Endpoint) {
	if ep.ModuleID == m.id {
		if in := m.registry.Input(ep.JackID); in != nil {
			in.PatchMember = true
		}
	}
	for _, out := range m.registry.Outputs() {
		if out.HasSubscriber(ep) {
			out.PatchMember = true
		}
	}
}

func (m *Module) markPatchMemberForHeldOutput(ep jack.Endpoint) {
	if ep.ModuleID == m.id {
		if out := m.registry.Output(ep.JackID); out != nil {
			out.PatchMember = true
		}
	}
	for _, in := range m.registry.Inputs() {
		if in.IsConnected() && in.Source.Source == ep {
			in.PatchMember = true
		}
	}
}

// togglePatch applies a PATCH_TOGGLED(input, output) transition,
// toggling whichever side this module owns and enforcing the
// input-has-at-most-one-source invariant even on re-patch.
func (m *Module) togglePatch(inputEp, outputEp jack.Endpoint) {
	if inputEp.ModuleID == m.id {
		in := m.registry.Input(inputEp.JackID)
		if in != nil {
			if in.IsConnected() && in.Source.Source == outputEp {
				m.registry.DisconnectInput(in.ID)
				m.mu.Lock()
				rx := m.receivers[in.ID]
				m.mu.Unlock()
				if rx != nil {
					rx.Disconnect()
				}
			} else if ho := m.lookupHeldOutput(outputEp); ho != nil {
				m.registry.ConnectInput(in.ID, jack.RemoteEndpoint{
					Group: ho.Group, Port: ho.Port, Hue: ho.Hue, Source: outputEp,
				})
				m.mu.Lock()
				rx := m.receivers[in.ID]
				m.mu.Unlock()
				if rx != nil {
					rx.Connect(m.iface, ho.Group, ho.Port)
				}
			}
		}
	}

	if outputEp.ModuleID == m.id {
		out := m.registry.Output(outputEp.JackID)
		if out != nil {
			if out.HasSubscriber(inputEp) {
				m.registry.RemoveSubscriber(out.ID, inputEp)
			} else {
				m.registry.AddSubscriber(out.ID, inputEp)
			}
		}
	}

	// Enforce "input has at most one source": any other output this
	// module owns that still feeds inputEp loses that subscriber.
	for _, out := range m.registry.Outputs() {
		if out.ID == outputEp.JackID && outputEp.ModuleID == m.id {
			continue
		}
		if out.HasSubscriber(inputEp) {
			m.registry.RemoveSubscriber(out.ID, inputEp)
		}
	}
}
