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

package coordinator

import (
	"sync"
	"testing"
	"time"

	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
)

// recordingBroadcaster captures every directive broadcast by a
// coordinator under test, routing RequestVote/Heartbeat traffic to
// peer coordinators so multi-node scenarios can be driven in-process.
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []directive.Directive
}

func (r *recordingBroadcaster) Broadcast(d directive.Directive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, d)
	return nil
}

func (r *recordingBroadcaster) drain() []directive.Directive {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

func testConfig(id string) Config {
	return Config{
		ModuleID:           id,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatPeriod:    50 * time.Millisecond,
		PeerSilenceTimeout: 2000 * time.Millisecond,
	}
}

func emptyState() jack.LocalState { return jack.LocalState{} }

func TestLoneNodeBecomesLeader(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(testConfig("solo"), b, emptyState, nil)

	now := time.Now()
	c.Start(now)

	// Drive past the election deadline: lone node sees its own vote and wins.
	now = now.Add(400 * time.Millisecond)
	c.Tick(now)
	now = now.Add(400 * time.Millisecond)
	c.Tick(now)

	if c.Role() != Leader {
		t.Fatalf("expected solo node to become leader, got %s", c.Role())
	}
}

func TestThreeNodeElectionPicksUniqueLeader(t *testing.T) {
	ids := []string{"a", "b", "c"}
	broadcasters := map[string]*recordingBroadcaster{}
	nodes := map[string]*Coordinator{}
	for _, id := range ids {
		b := &recordingBroadcaster{}
		broadcasters[id] = b
		nodes[id] = New(testConfig(id), b, emptyState, nil)
	}

	now := time.Now()
	for _, id := range ids {
		nodes[id].Start(now)
	}

	// Force node "a" to time out first and start an election.
	now = now.Add(400 * time.Millisecond)
	nodes["a"].Tick(now)

	msgs := broadcasters["a"].drain()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one RequestVote broadcast, got %d", len(msgs))
	}
	rv, ok := msgs[0].(directive.RequestVote)
	if !ok {
		t.Fatalf("expected RequestVote, got %T", msgs[0])
	}

	// Peers respond with their vote.
	for _, id := range []string{"b", "c"} {
		resp := nodes[id].HandleRequestVote(now, rv)
		if !resp.VoteGranted {
			t.Fatalf("expected %s to grant vote", id)
		}
		nodes["a"].HandleRequestVoteResponse(resp)
	}

	// Conclude the election once the next heartbeat deadline arrives.
	now = now.Add(60 * time.Millisecond)
	nodes["a"].Tick(now)

	if nodes["a"].Role() != Leader {
		t.Fatalf("expected node a to win the election, got %s", nodes["a"].Role())
	}

	leaders := 0
	for _, id := range ids {
		if nodes[id].Role() == Leader {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader across the cluster, got %d", leaders)
	}
}

func TestHigherTermDemotesLeader(t *testing.T) {
	b := &recordingBroadcaster{}
	c := New(testConfig("node"), b, emptyState, nil)

	now := time.Now()
	c.Start(now)
	now = now.Add(400 * time.Millisecond)
	c.Tick(now)
	now = now.Add(400 * time.Millisecond)
	c.Tick(now)
	if c.Role() != Leader {
		t.Fatalf("expected node to become leader first")
	}

	resp := c.HandleHeartbeat(now, directive.Heartbeat{UUID: "other", Term: c.Term() + 5, Iteration: 1})
	if !resp.Success {
		t.Fatalf("expected heartbeat from higher-term leader to succeed")
	}
	if c.Role() != Follower {
		t.Fatalf("expected node to step down to follower, got %s", c.Role())
	}
	if c.LeaderID() != "other" {
		t.Fatalf("expected leader id to be updated to 'other', got %q", c.LeaderID())
	}
}

func TestLeaderAggregatesGlobalPatchState(t *testing.T) {
	b := &recordingBroadcaster{}
	leader := New(testConfig("leader"), b, emptyState, nil)

	now := time.Now()
	leader.Start(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)
	if leader.Role() != Leader {
		t.Fatalf("expected node to become leader")
	}
	b.drain()

	in := jack.Endpoint{ModuleID: "m1", JackID: "j1"}
	out := jack.Endpoint{ModuleID: "m2", JackID: "j2"}

	leader.HandleUpdate(now, directive.Update{
		UUID: "m1",
		State: jack.LocalState{
			HeldInputs: []jack.HeldInput{{Endpoint: in}},
		},
	})
	leader.HandleUpdate(now, directive.Update{
		UUID: "m2",
		State: jack.LocalState{
			HeldOutputs: []jack.HeldOutput{{Endpoint: out, Group: "239.1.1.1", Port: 9000}},
		},
	})

	now = now.Add(60 * time.Millisecond)
	leader.Tick(now)

	msgs := b.drain()
	var found *directive.GlobalStateUpdate
	for _, m := range msgs {
		if gsu, ok := m.(directive.GlobalStateUpdate); ok {
			g := gsu
			found = &g
		}
	}
	if found == nil {
		t.Fatalf("expected a GlobalStateUpdate broadcast")
	}
	if found.PatchState != jack.PatchToggled {
		t.Fatalf("expected PatchToggled state, got %s", found.PatchState)
	}
	if found.HeldInput == nil || *found.HeldInput != in {
		t.Fatalf("expected held input endpoint %v, got %v", in, found.HeldInput)
	}
	if found.HeldOutput == nil || *found.HeldOutput != out {
		t.Fatalf("expected held output endpoint %v, got %v", out, found.HeldOutput)
	}
}

func TestStalePeerExcludedFromAggregation(t *testing.T) {
	b := &recordingBroadcaster{}
	leader := New(testConfig("leader"), b, emptyState, nil)

	now := time.Now()
	leader.Start(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)
	b.drain()

	in := jack.Endpoint{ModuleID: "m1", JackID: "j1"}
	leader.HandleUpdate(now, directive.Update{
		UUID:  "m1",
		State: jack.LocalState{HeldInputs: []jack.HeldInput{{Endpoint: in}}},
	})

	// Advance well past PeerSilenceTimeout without refreshing m1.
	now = now.Add(3 * time.Second)
	leader.Tick(now)

	msgs := b.drain()
	var found *directive.GlobalStateUpdate
	for _, m := range msgs {
		if gsu, ok := m.(directive.GlobalStateUpdate); ok {
			g := gsu
			found = &g
		}
	}
	if found == nil {
		t.Fatalf("expected a GlobalStateUpdate broadcast")
	}
	if found.PatchState != jack.Idle {
		t.Fatalf("expected stale peer to be excluded, leaving state Idle, got %s", found.PatchState)
	}
}

func TestStaleHeartbeatResponseIgnored(t *testing.T) {
	b := &recordingBroadcaster{}
	leader := New(testConfig("leader"), b, emptyState, nil)

	now := time.Now()
	leader.Start(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)
	now = now.Add(400 * time.Millisecond)
	leader.Tick(now)

	in := jack.Endpoint{ModuleID: "m1", JackID: "j1"}
	fresh := jack.LocalState{HeldInputs: []jack.HeldInput{{Endpoint: in}}}
	leader.HandleHeartbeatResponse(now, directive.HeartbeatResponse{
		UUID: "m1", Term: leader.Term(), Success: true, Iteration: 5, State: &fresh,
	})

	stale := jack.LocalState{}
	leader.HandleHeartbeatResponse(now, directive.HeartbeatResponse{
		UUID: "m1", Term: leader.Term(), Success: true, Iteration: 3, State: &stale,
	})

	leader.mu.Lock()
	rec := leader.peers["m1"]
	leader.mu.Unlock()
	if rec == nil || len(rec.state.HeldInputs) != 1 {
		t.Fatalf("expected stale (lower-iteration) response to be ignored, peer state: %+v", rec)
	}
}
