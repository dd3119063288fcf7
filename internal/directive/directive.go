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
Package directive implements the control-plane message taxonomy and its
wire codec: a tagged-union of directive types carried as UDP datagrams
on the control multicast channel, framed as a TLV header (magic,
version, tag, flags, length) around a JSON payload.
*/
package directive

import "patchmesh/internal/jack"

// GlobalSentinel addresses a Halt directive at every module.
const GlobalSentinel = "GLOBAL"

// Tag discriminates the directive variant carried in a datagram.
type Tag byte

const (
	TagUpdate Tag = iota + 1
	TagHalt
	TagSnapshotRequest
	TagSnapshotResponse
	TagSetPreset
	TagSetInputJack
	TagSetOutputJack
	TagHeartbeat
	TagHeartbeatResponse
	TagRequestVote
	TagRequestVoteResponse
	TagGlobalStateUpdate
)

func (t Tag) String() string {
	switch t {
	case TagUpdate:
		return "UPDATE"
	case TagHalt:
		return "HALT"
	case TagSnapshotRequest:
		return "SNAPSHOT_REQUEST"
	case TagSnapshotResponse:
		return "SNAPSHOT_RESPONSE"
	case TagSetPreset:
		return "SET_PRESET"
	case TagSetInputJack:
		return "SET_INPUT_JACK"
	case TagSetOutputJack:
		return "SET_OUTPUT_JACK"
	case TagHeartbeat:
		return "HEARTBEAT"
	case TagHeartbeatResponse:
		return "HEARTBEAT_RESPONSE"
	case TagRequestVote:
		return "REQUEST_VOTE"
	case TagRequestVoteResponse:
		return "REQUEST_VOTE_RESPONSE"
	case TagGlobalStateUpdate:
		return "GLOBAL_STATE_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Directive is implemented by every variant in the taxonomy.
type Directive interface {
	DirectiveTag() Tag
}

// PatchConnection names one live (output, input) pairing.
type PatchConnection struct {
	Input  jack.Endpoint `json:"input"`
	Output jack.Endpoint `json:"output"`
}

// Update advertises the sender's currently held jacks.
type Update struct {
	UUID  string          `json:"uuid"`
	State jack.LocalState `json:"state"`
}

func (Update) DirectiveTag() Tag { return TagUpdate }

// Halt requests that the addressed module (or every module, via
// GlobalSentinel) shut down.
type Halt struct {
	UUID string `json:"uuid"`
}

func (Halt) DirectiveTag() Tag { return TagHalt }

// SnapshotRequest asks all modules to reply with a preset snapshot.
type SnapshotRequest struct {
	UUID string `json:"uuid"`
}

func (SnapshotRequest) DirectiveTag() Tag { return TagSnapshotRequest }

// SnapshotResponse carries one module's opaque collaborator state plus
// the patch connections it participates in.
type SnapshotResponse struct {
	UUID    string            `json:"uuid"`
	Data    []byte            `json:"data"`
	Patched []PatchConnection `json:"patched"`
}

func (SnapshotResponse) DirectiveTag() Tag { return TagSnapshotResponse }

// PresetEntry is one module's bundled snapshot inside a SetPreset,
// carrying the patch connections gathered alongside it so the preset
// fully reproduces both module state and jack topology.
type PresetEntry struct {
	UUID    string            `json:"uuid"`
	Data    []byte            `json:"data"`
	Patched []PatchConnection `json:"patched,omitempty"`
}

// SetPreset instructs every module to adopt the bundled snapshots.
type SetPreset struct {
	UUID string        `json:"uuid"`
	Data []PresetEntry `json:"data"`
}

func (SetPreset) DirectiveTag() Tag { return TagSetPreset }

// SetInputJack instructs the named input's owner to connect.
type SetInputJack struct {
	UUID       string          `json:"uuid"`
	Source     jack.HeldOutput `json:"source"`
	Connection PatchConnection `json:"connection"`
}

func (SetInputJack) DirectiveTag() Tag { return TagSetInputJack }

// SetOutputJack is the symmetric counterpart of SetInputJack.
type SetOutputJack struct {
	UUID       string         `json:"uuid"`
	Source     jack.HeldInput `json:"source"`
	Connection PatchConnection `json:"connection"`
}

func (SetOutputJack) DirectiveTag() Tag { return TagSetOutputJack }

// Heartbeat is the leader's liveness and state-gathering pulse.
type Heartbeat struct {
	UUID      string `json:"uuid"`
	Term      uint64 `json:"term"`
	Iteration uint64 `json:"iteration"`
}

func (Heartbeat) DirectiveTag() Tag { return TagHeartbeat }

// HeartbeatResponse is a follower's reply, including its LocalState
// tagged by the heartbeat's iteration.
type HeartbeatResponse struct {
	UUID      string           `json:"uuid"`
	Term      uint64           `json:"term"`
	Success   bool             `json:"success"`
	Iteration uint64           `json:"iteration"`
	State     *jack.LocalState `json:"state,omitempty"`
}

func (HeartbeatResponse) DirectiveTag() Tag { return TagHeartbeatResponse }

// RequestVote is a candidate's election solicitation.
type RequestVote struct {
	UUID string `json:"uuid"`
	Term uint64 `json:"term"`
}

func (RequestVote) DirectiveTag() Tag { return TagRequestVote }

// RequestVoteResponse echoes the candidate being answered in VotedFor
// to prevent cross-election collisions.
type RequestVoteResponse struct {
	UUID        string `json:"uuid"`
	Term        uint64 `json:"term"`
	VotedFor    string `json:"voted_for"`
	VoteGranted bool   `json:"vote_granted"`
}

func (RequestVoteResponse) DirectiveTag() Tag { return TagRequestVoteResponse }

// GlobalStateUpdate is the leader's broadcast classification.
// PatchToggled must carry both HeldInput and HeldOutput; PatchEnabled
// carries exactly one; others carry neither.
type GlobalStateUpdate struct {
	PatchState jack.PatchState `json:"patch_state"`
	HeldInput  *jack.Endpoint  `json:"held_input,omitempty"`
	HeldOutput *jack.Endpoint  `json:"held_output,omitempty"`
}

func (GlobalStateUpdate) DirectiveTag() Tag { return TagGlobalStateUpdate }

// Valid reports whether the update's held-jack payload matches its
// declared PatchState (spec §7: invalid updates are logged and dropped,
// never applied).
func (u GlobalStateUpdate) Valid() bool {
	switch u.PatchState {
	case jack.Idle, jack.Blocked:
		return u.HeldInput == nil && u.HeldOutput == nil
	case jack.PatchEnabled:
		return (u.HeldInput == nil) != (u.HeldOutput == nil)
	case jack.PatchToggled:
		return u.HeldInput != nil && u.HeldOutput != nil
	default:
		return true
	}
}
