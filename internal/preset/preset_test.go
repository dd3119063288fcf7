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

package preset

import (
	"sync"
	"testing"
	"time"

	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
)

type fakeCollaborator struct {
	mu        sync.Mutex
	snapshot  []byte
	applied   [][]byte
	received  []string
}

func (f *fakeCollaborator) GetSnapshot() []byte { return f.snapshot }
func (f *fakeCollaborator) SetSnapshot(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, data)
}
func (f *fakeCollaborator) ReceivedSnapshot(sender string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, sender)
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []directive.Directive
}

func (b *fakeBroadcaster) Broadcast(d directive.Directive) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, d)
	return nil
}

func (b *fakeBroadcaster) drain() []directive.Directive {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sent
	b.sent = nil
	return out
}

func TestEventualGatherFinalizesOnFirstResponse(t *testing.T) {
	reg := jack.NewRegistry("m1")
	collab := &fakeCollaborator{snapshot: []byte("snap")}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Eventual, 1<<20, time.Second, nil)

	now := time.Now()
	s.StartGather(now, 3)
	bc.drain()

	s.HandleSnapshotResponse(directive.SnapshotResponse{UUID: "m1", Data: []byte("a")})
	s.Tick(now)

	msgs := bc.drain()
	if len(msgs) != 1 {
		t.Fatalf("expected one SetPreset broadcast, got %d", len(msgs))
	}
	sp, ok := msgs[0].(directive.SetPreset)
	if !ok {
		t.Fatalf("expected SetPreset, got %T", msgs[0])
	}
	if len(sp.Data) != 1 {
		t.Fatalf("expected one bundled entry, got %d", len(sp.Data))
	}
}

func TestQuorumGatherWaitsForMajority(t *testing.T) {
	reg := jack.NewRegistry("m1")
	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	now := time.Now()
	s.StartGather(now, 3)
	bc.drain()

	s.HandleSnapshotResponse(directive.SnapshotResponse{UUID: "m1"})
	s.Tick(now)
	if len(bc.drain()) != 0 {
		t.Fatal("expected no SetPreset yet with only 1 of 3 responses")
	}

	s.HandleSnapshotResponse(directive.SnapshotResponse{UUID: "m2"})
	s.Tick(now)
	msgs := bc.drain()
	if len(msgs) != 1 {
		t.Fatalf("expected SetPreset once quorum (2 of 3) reached, got %d messages", len(msgs))
	}
}

func TestAllGatherFinalizesOnDeadlineIfIncomplete(t *testing.T) {
	reg := jack.NewRegistry("m1")
	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, All, 1<<20, 100*time.Millisecond, nil)

	now := time.Now()
	s.StartGather(now, 3)
	bc.drain()

	s.HandleSnapshotResponse(directive.SnapshotResponse{UUID: "m1"})
	s.Tick(now)
	if len(bc.drain()) != 0 {
		t.Fatal("expected no SetPreset before deadline with incomplete responses")
	}

	s.Tick(now.Add(200 * time.Millisecond))
	msgs := bc.drain()
	if len(msgs) != 1 {
		t.Fatalf("expected SetPreset broadcast at deadline even though incomplete, got %d", len(msgs))
	}
	sp := msgs[0].(directive.SetPreset)
	if len(sp.Data) != 1 {
		t.Fatalf("expected the single response gathered before the deadline, got %d entries", len(sp.Data))
	}
}

func TestHandleSnapshotResponseAlwaysForwardsToCollaborator(t *testing.T) {
	reg := jack.NewRegistry("m1")
	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	// No gather in progress; every module still forwards to its collaborator.
	s.HandleSnapshotResponse(directive.SnapshotResponse{UUID: "m2", Data: []byte("x")})
	if len(collab.received) != 1 || collab.received[0] != "m2" {
		t.Fatalf("expected received_snapshot forwarding regardless of active gather, got %v", collab.received)
	}
}

func TestSetPresetReconcilesJackTopology(t *testing.T) {
	reg := jack.NewRegistry("m1")
	in := reg.AddInput("in")
	out := reg.AddOutput("out", 0.5)
	reg.ConnectInput(in.ID, jack.RemoteEndpoint{Group: "239.1.1.1", Port: 9000, Source: jack.Endpoint{ModuleID: "stale", JackID: "j9"}})

	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	remoteOut := jack.Endpoint{ModuleID: "m2", JackID: "jout"}
	remoteIn := jack.Endpoint{ModuleID: "m3", JackID: "jin"}

	sp := directive.SetPreset{
		UUID: directive.GlobalSentinel,
		Data: []directive.PresetEntry{
			{
				UUID: "m1",
				Data: []byte("restored"),
				Patched: []directive.PatchConnection{
					{Input: jack.Endpoint{ModuleID: "m1", JackID: in.ID}, Output: remoteOut},
					{Input: remoteIn, Output: jack.Endpoint{ModuleID: "m1", JackID: out.ID}},
				},
			},
		},
	}

	s.HandleSetPreset(sp)

	if in.IsConnected() {
		t.Fatal("expected stale input connection to be disconnected by reconciliation")
	}
	if !out.HasSubscriber(remoteIn) {
		t.Fatal("expected output to gain the listed subscriber")
	}
	if len(collab.applied) != 1 || string(collab.applied[0]) != "restored" {
		t.Fatalf("expected SetSnapshot to be called with the bundled data, got %v", collab.applied)
	}

	sent := bc.drain()
	found := false
	for _, d := range sent {
		if sij, ok := d.(directive.SetInputJack); ok && sij.UUID == "m3" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a SetInputJack announcing the new connection to the remote input's owner")
	}

	// Idempotence: applying the same SetPreset again must not change anything.
	s.HandleSetPreset(sp)
	if !out.HasSubscriber(remoteIn) || len(out.Subscribers()) != 1 {
		t.Fatalf("expected idempotent re-application, subscribers: %v", out.Subscribers())
	}
}

func TestSetPresetWithNoMatchingEntryClearsAllJacks(t *testing.T) {
	reg := jack.NewRegistry("m1")
	in := reg.AddInput("in")
	out := reg.AddOutput("out", 0)
	reg.ConnectInput(in.ID, jack.RemoteEndpoint{Source: jack.Endpoint{ModuleID: "x", JackID: "y"}})
	reg.AddSubscriber(out.ID, jack.Endpoint{ModuleID: "z", JackID: "w"})

	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	s.HandleSetPreset(directive.SetPreset{UUID: directive.GlobalSentinel, Data: []directive.PresetEntry{{UUID: "other"}}})

	if in.IsConnected() {
		t.Fatal("expected input to be disconnected when no matching preset entry exists")
	}
	if len(out.Subscribers()) != 0 {
		t.Fatal("expected output subscribers cleared when no matching preset entry exists")
	}
}

func TestHandleSetInputJackConnectsOwnedInput(t *testing.T) {
	reg := jack.NewRegistry("m1")
	in := reg.AddInput("in")
	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	ok := s.HandleSetInputJack(directive.SetInputJack{
		UUID:       "m1",
		Source:     jack.HeldOutput{Endpoint: jack.Endpoint{ModuleID: "m2", JackID: "jout"}, Group: "239.1.1.1", Port: 8000},
		Connection: directive.PatchConnection{Input: jack.Endpoint{ModuleID: "m1", JackID: in.ID}, Output: jack.Endpoint{ModuleID: "m2", JackID: "jout"}},
	})
	if !ok || !in.IsConnected() {
		t.Fatal("expected SetInputJack addressed to this module to connect the named input")
	}
}

func TestHandleSetOutputJackIgnoresForeignAddressee(t *testing.T) {
	reg := jack.NewRegistry("m1")
	out := reg.AddOutput("out", 0)
	collab := &fakeCollaborator{}
	bc := &fakeBroadcaster{}
	s := New("m1", reg, collab, bc, Quorum, 1<<20, time.Second, nil)

	ok := s.HandleSetOutputJack(directive.SetOutputJack{
		UUID:       "someone-else",
		Connection: directive.PatchConnection{Output: jack.Endpoint{ModuleID: "m1", JackID: out.ID}},
	})
	if ok || len(out.Subscribers()) != 0 {
		t.Fatal("expected SetOutputJack not addressed to this module to be ignored")
	}
}
