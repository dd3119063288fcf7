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

import "patchmesh/internal/jack"

// Block is one jack's worth of samples for one tick, shaped
// BlockSize x Channels.
type Block = [][]int16

// EventHandler is the collaborator-facing surface a module drives each
// tick: DSP processing, opaque preset I/O, and lifecycle notification.
// Every method has an inert default via NoopHandler, so implementations
// plug in only the capabilities they need.
type EventHandler interface {
	// Patch is invoked after every applied GlobalStateUpdate.
	Patch(state jack.PatchState)
	// Process receives one block per input jack (in registry order) and
	// must return one block per output jack (in registry order).
	Process(inputs []Block) []Block
	// GetSnapshot returns this module's opaque preset state.
	GetSnapshot() []byte
	// SetSnapshot restores opaque preset state bundled in a SetPreset.
	SetSnapshot(data []byte)
	// ReceivedSnapshot observes any module's SnapshotResponse traffic.
	ReceivedSnapshot(sender string, payload []byte)
	// Halt is invoked when this module (or all modules) receive Halt.
	Halt()
}

// NoopHandler is the inert default EventHandler: Process returns an
// empty matrix and every other method does nothing.
type NoopHandler struct{}

func (NoopHandler) Patch(jack.PatchState)           {}
func (NoopHandler) Process(inputs []Block) []Block  { return nil }
func (NoopHandler) GetSnapshot() []byte             { return nil }
func (NoopHandler) SetSnapshot([]byte)              {}
func (NoopHandler) ReceivedSnapshot(string, []byte) {}
func (NoopHandler) Halt()                           {}
