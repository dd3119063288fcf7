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
Package jack implements the per-module jack registry: declared input
and output jacks, their patch-held/patch-member flags, and current
connections. Jacks are referenced by index into the registry's own
arenas rather than holding a back-pointer to their owning module, so
the registry and the module that dispatches callbacks never form a
reference cycle.
*/
package jack

import (
	"fmt"
	"sync"
)

// Endpoint identifies a jack globally by its owning module and its
// module-scoped id.
type Endpoint struct {
	ModuleID string
	JackID   string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.ModuleID, e.JackID)
}

// IsZero reports whether e is the zero Endpoint (no reference).
func (e Endpoint) IsZero() bool {
	return e.ModuleID == "" && e.JackID == ""
}

// RemoteEndpoint is the multicast address an InputJack has subscribed
// to, together with the color and identity of the output driving it.
type RemoteEndpoint struct {
	Group  string
	Port   int
	Hue    float64
	Source Endpoint
}

// InputJack is an input endpoint on a module.
type InputJack struct {
	Name        string
	ID          string
	ModuleID    string
	Held        bool
	PatchMember bool

	// Source is the zero value when unconnected.
	Source    RemoteEndpoint
	connected bool
}

// IsConnected reports whether the input currently has an upstream source.
func (j *InputJack) IsConnected() bool {
	return j.connected
}

// OutputJack is an output endpoint on a module.
type OutputJack struct {
	Name        string
	ID          string
	ModuleID    string
	Held        bool
	PatchMember bool
	Hue         float64

	Group       string
	Port        int
	subscribers map[Endpoint]struct{}
}

// Subscribers returns the current downstream subscriber set.
func (j *OutputJack) Subscribers() []Endpoint {
	out := make([]Endpoint, 0, len(j.subscribers))
	for ep := range j.subscribers {
		out = append(out, ep)
	}
	return out
}

// HasSubscriber reports whether ep currently subscribes to this output.
func (j *OutputJack) HasSubscriber(ep Endpoint) bool {
	_, ok := j.subscribers[ep]
	return ok
}

// HeldInput describes a held input jack for LocalState advertisement.
type HeldInput struct {
	Endpoint Endpoint
}

// HeldOutput describes a held output jack, carrying enough information
// for a remote input to subscribe without a negotiation round trip.
type HeldOutput struct {
	Endpoint Endpoint
	Group    string
	Port     int
	Hue      float64
}

// LocalState is a module's view of which of its own jacks currently
// have the patch button held.
type LocalState struct {
	HeldInputs  []HeldInput
	HeldOutputs []HeldOutput
}

// IsEmpty reports whether no jacks are held.
func (s LocalState) IsEmpty() bool {
	return len(s.HeldInputs) == 0 && len(s.HeldOutputs) == 0
}

// PatchState is the four-valued classification of the union of all
// currently-recorded LocalState values.
type PatchState int

const (
	Idle PatchState = iota
	PatchEnabled
	PatchToggled
	Blocked
)

// String returns the wire/display name of the state.
func (s PatchState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case PatchEnabled:
		return "PATCH_ENABLED"
	case PatchToggled:
		return "PATCH_TOGGLED"
	case Blocked:
		return "BLOCKED"
	default:
		return "BLOCKED"
	}
}

// Classify computes the GlobalPatchState from the union of held inputs
// and outputs across all currently-eligible peers.
func Classify(heldInputs []HeldInput, heldOutputs []HeldOutput) PatchState {
	total := len(heldInputs) + len(heldOutputs)
	switch {
	case total == 0:
		return Idle
	case total == 1:
		return PatchEnabled
	case len(heldInputs) == 1 && len(heldOutputs) == 1:
		return PatchToggled
	default:
		return Blocked
	}
}

// Registry owns all jacks declared by one module, addressed by index
// into its arenas. Mutated only from the module's Tick Loop goroutine;
// the mutex guards reads made from other goroutines (e.g. a CLI status
// query) rather than protecting against internal concurrency.
type Registry struct {
	mu       sync.RWMutex
	moduleID string
	nextID   uint64

	inputs    []*InputJack
	outputs   []*OutputJack
	inputIdx  map[string]int
	outputIdx map[string]int
}

// NewRegistry creates an empty registry scoped to moduleID.
func NewRegistry(moduleID string) *Registry {
	return &Registry{
		moduleID:  moduleID,
		inputIdx:  make(map[string]int),
		outputIdx: make(map[string]int),
	}
}

func (r *Registry) allocID() string {
	r.nextID++
	return fmt.Sprintf("j%d", r.nextID)
}

// AddInput declares a new input jack named name and returns it.
func (r *Registry) AddInput(name string) *InputJack {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &InputJack{Name: name, ID: r.allocID(), ModuleID: r.moduleID}
	r.inputIdx[j.ID] = len(r.inputs)
	r.inputs = append(r.inputs, j)
	return j
}

// AddOutput declares a new output jack named name with the given hue
// and returns it. The caller is expected to fill in Group/Port once the
// Output Transmitter allocates a multicast endpoint.
func (r *Registry) AddOutput(name string, hue float64) *OutputJack {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &OutputJack{
		Name:        name,
		ID:          r.allocID(),
		ModuleID:    r.moduleID,
		Hue:         hue,
		subscribers: make(map[Endpoint]struct{}),
	}
	r.outputIdx[j.ID] = len(r.outputs)
	r.outputs = append(r.outputs, j)
	return j
}

// Input returns the input jack with the given id, or nil.
func (r *Registry) Input(id string) *InputJack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.inputIdx[id]; ok {
		return r.inputs[i]
	}
	return nil
}

// Output returns the output jack with the given id, or nil.
func (r *Registry) Output(id string) *OutputJack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.outputIdx[id]; ok {
		return r.outputs[i]
	}
	return nil
}

// Inputs returns all declared input jacks.
func (r *Registry) Inputs() []*InputJack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*InputJack, len(r.inputs))
	copy(out, r.inputs)
	return out
}

// Outputs returns all declared output jacks.
func (r *Registry) Outputs() []*OutputJack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*OutputJack, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// SetInputHeld toggles an input jack's patch-held flag.
func (r *Registry) SetInputHeld(id string, held bool) {
	if j := r.Input(id); j != nil {
		r.mu.Lock()
		j.Held = held
		r.mu.Unlock()
	}
}

// SetOutputHeld toggles an output jack's patch-held flag.
func (r *Registry) SetOutputHeld(id string, held bool) {
	if j := r.Output(id); j != nil {
		r.mu.Lock()
		j.Held = held
		r.mu.Unlock()
	}
}

// IsPatched reports whether the jack identified by id (input or output)
// currently participates in a live connection.
func (r *Registry) IsPatched(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.inputIdx[id]; ok {
		return r.inputs[i].connected
	}
	if i, ok := r.outputIdx[id]; ok {
		return len(r.outputs[i].subscribers) > 0
	}
	return false
}

// IsPatchMember reports whether the jack's PatchMember flag is set.
// Meaningful only while GlobalPatchState is PATCH_ENABLED; recomputed
// on every global state transition and otherwise frozen.
func (r *Registry) IsPatchMember(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i, ok := r.inputIdx[id]; ok {
		return r.inputs[i].PatchMember
	}
	if i, ok := r.outputIdx[id]; ok {
		return r.outputs[i].PatchMember
	}
	return false
}

// LocalState computes this module's current LocalState from held jacks.
func (r *Registry) LocalState() LocalState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s LocalState
	for _, in := range r.inputs {
		if in.Held {
			s.HeldInputs = append(s.HeldInputs, HeldInput{
				Endpoint: Endpoint{ModuleID: r.moduleID, JackID: in.ID},
			})
		}
	}
	for _, out := range r.outputs {
		if out.Held {
			s.HeldOutputs = append(s.HeldOutputs, HeldOutput{
				Endpoint: Endpoint{ModuleID: r.moduleID, JackID: out.ID},
				Group:    out.Group,
				Port:     out.Port,
				Hue:      out.Hue,
			})
		}
	}
	return s
}

// ClearPatchMembers resets PatchMember on every jack to false, the
// first step of every Global State Transition (spec §4.8).
func (r *Registry) ClearPatchMembers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.inputs {
		in.PatchMember = false
	}
	for _, out := range r.outputs {
		out.PatchMember = false
	}
}

// ConnectInput records src as the source of input id; the registry does
// not open or join any socket. Returns false if id is not owned by this
// registry.
func (r *Registry) ConnectInput(id string, src RemoteEndpoint) bool {
	j := r.Input(id)
	if j == nil {
		return false
	}
	r.mu.Lock()
	j.Source = src
	j.connected = true
	r.mu.Unlock()
	return true
}

// DisconnectInput clears an input's connection state.
func (r *Registry) DisconnectInput(id string) bool {
	j := r.Input(id)
	if j == nil {
		return false
	}
	r.mu.Lock()
	j.Source = RemoteEndpoint{}
	j.connected = false
	r.mu.Unlock()
	return true
}

// AddSubscriber records ep as a downstream subscriber of the output
// jack id.
func (r *Registry) AddSubscriber(id string, ep Endpoint) bool {
	j := r.Output(id)
	if j == nil {
		return false
	}
	r.mu.Lock()
	j.subscribers[ep] = struct{}{}
	r.mu.Unlock()
	return true
}

// RemoveSubscriber removes ep from the output jack's subscriber set.
func (r *Registry) RemoveSubscriber(id string, ep Endpoint) bool {
	j := r.Output(id)
	if j == nil {
		return false
	}
	r.mu.Lock()
	delete(j.subscribers, ep)
	r.mu.Unlock()
	return true
}

// ClearAllOutputs empties every output jack's subscriber set. Used when
// a SetPreset bundle has no matching snapshot for this module.
func (r *Registry) ClearAllOutputs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.outputs {
		out.subscribers = make(map[Endpoint]struct{})
	}
}

// DisconnectAllInputs clears every input jack's connection.
func (r *Registry) DisconnectAllInputs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.inputs {
		in.Source = RemoteEndpoint{}
		in.connected = false
	}
}
