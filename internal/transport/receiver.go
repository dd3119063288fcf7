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

package transport

import (
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	perrors "patchmesh/internal/errors"
)

// Receiver is the Input Receiver for one input jack: it joins a
// multicast group, drains datagrams into a bounded queue, and masks
// packet loss by freezing at the last-seen block.
type Receiver struct {
	shape      Shape
	bufferSize int

	mu        sync.Mutex
	conn      *net.UDPConn
	pc        *ipv4.PacketConn
	queue     []Block
	lastSeen  Block
	connected bool
}

// NewReceiver creates a disconnected Receiver for blocks of shape,
// queuing up to bufferSize blocks before dropping the oldest.
func NewReceiver(shape Shape, bufferSize int) *Receiver {
	return &Receiver{shape: shape, bufferSize: bufferSize}
}

// Connect joins the multicast group on iface (nil uses the system
// default interface). Reads are made non-blocking by Update, which sets
// an immediate read deadline before each read.
func (r *Receiver) Connect(iface *net.Interface, group string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return perrors.BindFailed(group, err).WithCause(err)
	}

	pc := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group)}
	if err := pc.JoinGroup(iface, groupAddr); err != nil {
		conn.Close()
		return perrors.JoinFailed(group, err)
	}

	r.conn = conn
	r.pc = pc
	r.connected = true
	r.queue = nil
	return nil
}

// Update drains all available datagrams into the bounded queue,
// reshaping each into a block and refreshing the last-seen cache.
// Non-blocking: returns promptly whether or not data was pending.
func (r *Receiver) Update() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil
	}

	buf := make([]byte, r.shape.ByteLen())
	for {
		r.conn.SetReadDeadline(time.Now())
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return nil
		}
		if n != r.shape.ByteLen() {
			continue
		}
		block, err := DecodeBlock(buf[:n], r.shape)
		if err != nil {
			continue
		}
		r.lastSeen = block
		if len(r.queue) >= r.bufferSize {
			r.queue = r.queue[1:]
		}
		r.queue = append(r.queue, block)
	}
}

// GetData returns the next queued block if present, otherwise a copy of
// the last-seen block (zero-value only if nothing has ever arrived).
func (r *Receiver) GetData() Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) > 0 {
		b := r.queue[0]
		r.queue = r.queue[1:]
		return b
	}
	if r.lastSeen == nil {
		return NewBlock(r.shape)
	}
	return copyBlock(r.lastSeen)
}

// Disconnect leaves the multicast group and clears queued state.
func (r *Receiver) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil
	}
	r.connected = false
	r.queue = nil
	r.lastSeen = nil
	return r.conn.Close()
}

func copyBlock(b Block) Block {
	out := make(Block, len(b))
	for i, row := range b {
		out[i] = append([]int16(nil), row...)
	}
	return out
}
