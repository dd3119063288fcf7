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

	"golang.org/x/net/ipv4"

	perrors "patchmesh/internal/errors"
)

// Transmitter is the Output Transmitter for one output jack: it owns a
// multicast endpoint allocated at construction and sends one datagram
// per produced block, regardless of whether any receiver is listening.
type Transmitter struct {
	shape Shape
	group string
	port  int

	conn *net.UDPConn
	dst  *net.UDPAddr
	pool *BufferPool

	mu    sync.Mutex
	level float64
}

// NewTransmitter allocates a UDP socket bound for multicast send on
// group:port via iface (nil uses the system default interface), and
// returns a Transmitter ready to send blocks of shape.
func NewTransmitter(iface *net.Interface, group string, port int, shape Shape) (*Transmitter, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, perrors.BindFailed(group, err).WithCause(err)
	}

	pc := ipv4.NewPacketConn(conn)
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, perrors.JoinFailed(group, err)
		}
	}
	pc.SetMulticastLoopback(true)

	dst := &net.UDPAddr{IP: net.ParseIP(group), Port: port}

	return &Transmitter{
		shape: shape,
		group: group,
		port:  port,
		conn:  conn,
		dst:   dst,
		pool:  NewBufferPool(shape.ByteLen()),
	}, nil
}

// Endpoint returns the multicast group and port this transmitter sends on.
func (t *Transmitter) Endpoint() (string, int) {
	return t.group, t.port
}

// Send serializes block and emits one UDP datagram. Always transmits
// regardless of subscriber count, keeping the fast path branch-free.
func (t *Transmitter) Send(block Block) error {
	buf := t.pool.Get()
	defer t.pool.Put(buf)

	if err := EncodeBlock(block, t.shape, buf); err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDP(buf, t.dst); err != nil {
		return perrors.BindFailed(t.group, err).WithCause(err)
	}

	t.mu.Lock()
	t.level = block.PeakMagnitude()
	t.mu.Unlock()
	return nil
}

// GetLevel returns the peak absolute magnitude of the last block sent,
// normalized to [0,1], for UI meters.
func (t *Transmitter) GetLevel() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Close releases the transmitter's socket.
func (t *Transmitter) Close() error {
	return t.conn.Close()
}
