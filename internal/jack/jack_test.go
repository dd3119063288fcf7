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

package jack

import "testing"

func TestAddInputAssignsMonotonicIDs(t *testing.T) {
	r := NewRegistry("mod-a")
	i1 := r.AddInput("in1")
	i2 := r.AddInput("in2")

	if i1.ID == i2.ID {
		t.Fatalf("expected distinct jack ids, got %q twice", i1.ID)
	}
	if r.Input(i1.ID) != i1 {
		t.Fatalf("expected registry lookup to return the same jack")
	}
}

func TestInputHasAtMostOneSource(t *testing.T) {
	r := NewRegistry("mod-b")
	in := r.AddInput("i1")

	srcA := RemoteEndpoint{Group: "239.1.1.1", Port: 5000, Source: Endpoint{ModuleID: "mod-a", JackID: "o1"}}
	srcC := RemoteEndpoint{Group: "239.1.1.2", Port: 5001, Source: Endpoint{ModuleID: "mod-c", JackID: "o2"}}

	r.ConnectInput(in.ID, srcA)
	if !in.IsConnected() || in.Source.Source.ModuleID != "mod-a" {
		t.Fatalf("expected input connected to mod-a")
	}

	r.ConnectInput(in.ID, srcC)
	if in.Source.Source.ModuleID != "mod-c" {
		t.Fatalf("expected re-patch to replace source, got %v", in.Source.Source)
	}
}

func TestOutputSubscriberSet(t *testing.T) {
	r := NewRegistry("mod-a")
	out := r.AddOutput("o1", 120)

	ep := Endpoint{ModuleID: "mod-b", JackID: "i1"}
	r.AddSubscriber(out.ID, ep)
	if !out.HasSubscriber(ep) {
		t.Fatalf("expected subscriber to be recorded")
	}

	r.RemoveSubscriber(out.ID, ep)
	if out.HasSubscriber(ep) {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestLocalStateReflectsHeldJacks(t *testing.T) {
	r := NewRegistry("mod-a")
	in := r.AddInput("i1")
	out := r.AddOutput("o1", 42)

	if !r.LocalState().IsEmpty() {
		t.Fatalf("expected empty LocalState before any hold")
	}

	r.SetInputHeld(in.ID, true)
	r.SetOutputHeld(out.ID, true)

	state := r.LocalState()
	if len(state.HeldInputs) != 1 || state.HeldInputs[0].Endpoint.JackID != in.ID {
		t.Fatalf("expected held input %s, got %v", in.ID, state.HeldInputs)
	}
	if len(state.HeldOutputs) != 1 || state.HeldOutputs[0].Endpoint.JackID != out.ID {
		t.Fatalf("expected held output %s, got %v", out.ID, state.HeldOutputs)
	}
	if state.HeldOutputs[0].Hue != 42 {
		t.Fatalf("expected hue 42 propagated into HeldOutput, got %v", state.HeldOutputs[0].Hue)
	}
}

func TestClearPatchMembersResetsAll(t *testing.T) {
	r := NewRegistry("mod-a")
	in := r.AddInput("i1")
	out := r.AddOutput("o1", 0)
	in.PatchMember = true
	out.PatchMember = true

	r.ClearPatchMembers()

	if r.IsPatchMember(in.ID) || r.IsPatchMember(out.ID) {
		t.Fatalf("expected ClearPatchMembers to reset all jacks")
	}
}

func TestDisconnectInputClearsSource(t *testing.T) {
	r := NewRegistry("mod-b")
	in := r.AddInput("i1")
	r.ConnectInput(in.ID, RemoteEndpoint{Group: "239.1.1.1", Port: 5000})

	r.DisconnectInput(in.ID)
	if in.IsConnected() {
		t.Fatalf("expected input to be disconnected")
	}
}
