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
Package coordinator implements the Patch Coordinator: Raft-style leader
election restricted to term + leader identity (no log replication),
plus the leader's aggregation of per-peer LocalState into a
GlobalPatchState broadcast. It is driven entirely by Tick calls from
the module's Tick Loop — it never starts its own timers or goroutines.
*/
package coordinator

import (
	"math/rand"
	"sync"
	"time"

	"patchmesh/internal/directive"
	"patchmesh/internal/jack"
	"patchmesh/internal/logging"
)

// Role is one of the three Raft roles adapted here.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "FOLLOWER"
	case Candidate:
		return "CANDIDATE"
	case Leader:
		return "LEADER"
	default:
		return "FOLLOWER"
	}
}

// Broadcaster sends a directive to every module on the control channel.
type Broadcaster interface {
	Broadcast(d directive.Directive) error
}

// Config holds the coordinator's tunables, generalized from spec.md §6
// and SPEC_FULL.md §4.5/§6.
type Config struct {
	ModuleID             string
	ElectionTimeoutMin   time.Duration
	ElectionTimeoutMax   time.Duration
	HeartbeatPeriod      time.Duration
	PeerSilenceTimeout   time.Duration
}

// peerRecord is the coordinator's per-peer bookkeeping (SPEC_FULL.md §3).
type peerRecord struct {
	state     jack.LocalState
	iteration uint64
	lastSeen  time.Time
}

// Coordinator is the Patch Coordinator for one module.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config

	role     Role
	term     uint64
	votedFor string
	leaderID string

	votesGot  map[string]bool
	seenHosts map[string]struct{}

	electionDeadline time.Time
	nextHeartbeat    time.Time
	iteration        uint64

	peers          map[string]*peerRecord
	lastBroadcast  *directive.GlobalStateUpdate

	broadcaster  Broadcaster
	localStateFn func() jack.LocalState
	logger       *logging.Logger
	rng          *rand.Rand
}

// New constructs a Coordinator in the Follower role. localStateFn
// supplies this module's own LocalState when replying to heartbeats.
func New(cfg Config, broadcaster Broadcaster, localStateFn func() jack.LocalState, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewLogger("coordinator")
	}
	return &Coordinator{
		cfg:          cfg,
		role:         Follower,
		peers:        make(map[string]*peerRecord),
		broadcaster:  broadcaster,
		localStateFn: localStateFn,
		logger:       logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Role returns the coordinator's current role.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Term returns the coordinator's current term.
func (c *Coordinator) Term() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// IsLeader reports whether this coordinator currently holds leadership.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == Leader
}

// LeaderID returns the module id of the last known leader, or "" if unknown.
func (c *Coordinator) LeaderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderID
}

func (c *Coordinator) randomElectionTimeout() time.Duration {
	span := c.cfg.ElectionTimeoutMax - c.cfg.ElectionTimeoutMin
	if span <= 0 {
		return c.cfg.ElectionTimeoutMin
	}
	return c.cfg.ElectionTimeoutMin + time.Duration(c.rng.Int63n(int64(span)))
}

// Start arms the election timer; call once before the first Tick.
func (c *Coordinator) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.electionDeadline = now.Add(c.randomElectionTimeout())
}

// Tick services the coordinator's timers. Called once per Tick Loop
// pass with a null message (spec §4.6 step e).
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	role := c.role
	electionElapsed := !c.electionDeadline.IsZero() && !now.Before(c.electionDeadline)
	c.mu.Unlock()

	switch role {
	case Follower:
		if electionElapsed {
			c.startElection(now)
		}
	case Candidate:
		c.concludeElectionIfDue(now)
	case Leader:
		c.mu.Lock()
		due := !now.Before(c.nextHeartbeat)
		c.mu.Unlock()
		if due {
			c.sendHeartbeat(now)
		}
	}
}

func (c *Coordinator) startElection(now time.Time) {
	c.mu.Lock()
	c.role = Candidate
	c.term++
	c.votedFor = c.cfg.ModuleID
	c.seenHosts = map[string]struct{}{c.cfg.ModuleID: {}}
	c.votesGot = map[string]bool{c.cfg.ModuleID: true}
	c.electionDeadline = now.Add(c.randomElectionTimeout())
	c.nextHeartbeat = now.Add(c.cfg.HeartbeatPeriod)
	term := c.term
	c.mu.Unlock()

	c.logger.Info("starting election", "term", itoa64(term))
	c.broadcaster.Broadcast(directive.RequestVote{UUID: c.cfg.ModuleID, Term: term})
}

func (c *Coordinator) concludeElectionIfDue(now time.Time) {
	c.mu.Lock()
	if now.Before(c.nextHeartbeat) {
		c.mu.Unlock()
		return
	}
	votes := 0
	for _, granted := range c.votesGot {
		if granted {
			votes++
		}
	}
	seen := len(c.seenHosts)
	won := seen > 0 && float64(votes)/float64(seen) >= 0.5
	if won {
		c.becomeLeaderLocked(now)
	} else {
		c.becomeFollowerLocked(c.term)
		c.electionDeadline = now.Add(c.randomElectionTimeout())
	}
	c.mu.Unlock()
}

func (c *Coordinator) becomeLeaderLocked(now time.Time) {
	c.role = Leader
	c.leaderID = c.cfg.ModuleID
	c.iteration = 0
	c.nextHeartbeat = now
	c.peers = make(map[string]*peerRecord)
	c.logger.Info("became leader", "term", itoa64(c.term))
}

func (c *Coordinator) becomeFollowerLocked(term uint64) {
	prevRole := c.role
	c.role = Follower
	c.term = term
	c.votedFor = ""
	if prevRole == Leader {
		c.logger.Info("stepping down from leader", "term", itoa64(term))
	}
}

// becomeFollower demotes the coordinator to Follower at the given term,
// used when a higher term is observed in any message.
func (c *Coordinator) becomeFollower(now time.Time, term uint64) {
	c.mu.Lock()
	c.becomeFollowerLocked(term)
	c.electionDeadline = now.Add(c.randomElectionTimeout())
	c.mu.Unlock()
}

func (c *Coordinator) sendHeartbeat(now time.Time) {
	c.mu.Lock()
	c.iteration++
	iteration := c.iteration
	term := c.term
	c.nextHeartbeat = now.Add(c.cfg.HeartbeatPeriod)

	// Record own state so aggregation includes the leader's own held jacks.
	c.peers[c.cfg.ModuleID] = &peerRecord{
		state:     c.localStateFn(),
		iteration: iteration,
		lastSeen:  now,
	}
	c.mu.Unlock()

	c.broadcaster.Broadcast(directive.Heartbeat{UUID: c.cfg.ModuleID, Term: term, Iteration: iteration})
	c.aggregate(now)
}

// aggregate computes GlobalPatchState from all non-stale peers and
// broadcasts a GlobalStateUpdate if it differs from the last one sent.
func (c *Coordinator) aggregate(now time.Time) {
	c.mu.Lock()
	var heldInputs []jack.HeldInput
	var heldOutputs []jack.HeldOutput
	for id, p := range c.peers {
		if now.Sub(p.lastSeen) > c.cfg.PeerSilenceTimeout {
			continue
		}
		heldInputs = append(heldInputs, p.state.HeldInputs...)
		heldOutputs = append(heldOutputs, p.state.HeldOutputs...)
		_ = id
	}
	state := jack.Classify(heldInputs, heldOutputs)

	update := directive.GlobalStateUpdate{PatchState: state}
	switch state {
	case jack.PatchEnabled:
		if len(heldInputs) == 1 {
			update.HeldInput = &heldInputs[0].Endpoint
		} else if len(heldOutputs) == 1 {
			update.HeldOutput = &heldOutputs[0].Endpoint
		}
	case jack.PatchToggled:
		update.HeldInput = &heldInputs[0].Endpoint
		update.HeldOutput = &heldOutputs[0].Endpoint
	}

	changed := c.lastBroadcast == nil || !sameUpdate(*c.lastBroadcast, update)
	if changed {
		c.lastBroadcast = &update
	}
	c.mu.Unlock()

	if changed {
		c.broadcaster.Broadcast(update)
	}
}

func sameUpdate(a, b directive.GlobalStateUpdate) bool {
	if a.PatchState != b.PatchState {
		return false
	}
	if !sameEndpointPtr(a.HeldInput, b.HeldInput) {
		return false
	}
	return sameEndpointPtr(a.HeldOutput, b.HeldOutput)
}

func sameEndpointPtr(a, b *jack.Endpoint) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

// HandleRequestVote processes an incoming RequestVote and returns the
// response to send back.
func (c *Coordinator) HandleRequestVote(now time.Time, rv directive.RequestVote) directive.RequestVoteResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rv.Term > c.term {
		c.becomeFollowerLocked(rv.Term)
	}
	grant := rv.Term >= c.term && (c.votedFor == "" || c.votedFor == rv.UUID)
	if grant {
		c.votedFor = rv.UUID
		c.electionDeadline = now.Add(c.randomElectionTimeout())
	}
	return directive.RequestVoteResponse{
		UUID:        c.cfg.ModuleID,
		Term:        c.term,
		VotedFor:    rv.UUID,
		VoteGranted: grant,
	}
}

// HandleRequestVoteResponse records a vote while Candidate.
func (c *Coordinator) HandleRequestVoteResponse(resp directive.RequestVoteResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resp.Term > c.term {
		c.becomeFollowerLocked(resp.Term)
		return
	}
	if c.role != Candidate || resp.Term != c.term || resp.VotedFor != c.cfg.ModuleID {
		return
	}
	c.seenHosts[resp.UUID] = struct{}{}
	c.votesGot[resp.UUID] = resp.VoteGranted
}

// HandleHeartbeat processes an incoming Heartbeat and returns the
// response to send back, including this module's own LocalState.
func (c *Coordinator) HandleHeartbeat(now time.Time, hb directive.Heartbeat) directive.HeartbeatResponse {
	c.mu.Lock()
	if hb.Term < c.term {
		term := c.term
		c.mu.Unlock()
		return directive.HeartbeatResponse{UUID: c.cfg.ModuleID, Term: term, Success: false}
	}
	if hb.Term >= c.term {
		c.term = hb.Term
		if c.role != Follower || c.leaderID != hb.UUID {
			c.logger.Debug("yielding to leader", "leader", hb.UUID, "term", itoa64(hb.Term))
		}
		c.role = Follower
		c.leaderID = hb.UUID
		c.votedFor = ""
	}
	c.electionDeadline = now.Add(c.randomElectionTimeout())
	c.mu.Unlock()

	state := c.localStateFn()
	return directive.HeartbeatResponse{
		UUID:      c.cfg.ModuleID,
		Term:      hb.Term,
		Success:   true,
		Iteration: hb.Iteration,
		State:     &state,
	}
}

// HandleHeartbeatResponse records a peer's reported LocalState while Leader.
// Stale-iteration replies (arriving after a newer one was already recorded)
// are ignored per spec §4.5.
func (c *Coordinator) HandleHeartbeatResponse(now time.Time, resp directive.HeartbeatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if resp.Term > c.term {
		c.becomeFollowerLocked(resp.Term)
		return
	}
	if c.role != Leader || !resp.Success || resp.State == nil {
		return
	}
	if existing, ok := c.peers[resp.UUID]; ok && resp.Iteration < existing.iteration {
		return
	}
	c.peers[resp.UUID] = &peerRecord{
		state:     *resp.State,
		iteration: resp.Iteration,
		lastSeen:  now,
	}
}

// HandleUpdate overwrites a peer's LocalState outside the heartbeat
// cycle (spec §4.7: Update directive).
func (c *Coordinator) HandleUpdate(now time.Time, u directive.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.peers[u.UUID]
	iteration := uint64(0)
	if ok {
		iteration = existing.iteration
	}
	c.peers[u.UUID] = &peerRecord{state: u.State, iteration: iteration, lastSeen: now}
}

func itoa64(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
