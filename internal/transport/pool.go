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
Package transport implements the streaming data plane: a multicast
Transmitter per output jack and a multicast Receiver per input jack.
*/
package transport

import "sync"

// BufferPool hands out fixed-size byte buffers for the send fast path,
// avoiding a per-tick allocation for every outbound block.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		return make([]byte, bp.size)
	}
	return bp
}

// Get returns a buffer of the pool's configured size.
func (p *BufferPool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if len(buf) != p.size {
		return make([]byte, p.size)
	}
	return buf
}

// Put returns a buffer to the pool. Buffers of the wrong size are
// dropped rather than pooled.
func (p *BufferPool) Put(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf)
}
