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
	"encoding/binary"
	"strconv"

	perrors "patchmesh/internal/errors"
)

// Shape describes the fixed dimensions of every block on a jack:
// BlockSize rows (samples per packet period) by Channels columns.
type Shape struct {
	BlockSize int
	Channels  int
}

// ByteLen returns the wire size of a block of this shape: BlockSize *
// Channels * sizeof(int16).
func (s Shape) ByteLen() int {
	return s.BlockSize * s.Channels * 2
}

// Block is one packet's worth of samples, row-major with channel as
// the inner dimension: Block[row][channel].
type Block [][]int16

// NewBlock allocates a zeroed block of the given shape.
func NewBlock(shape Shape) Block {
	b := make(Block, shape.BlockSize)
	for i := range b {
		b[i] = make([]int16, shape.Channels)
	}
	return b
}

// Matches reports whether the block's dimensions match shape.
func (b Block) Matches(shape Shape) bool {
	if len(b) != shape.BlockSize {
		return false
	}
	for _, row := range b {
		if len(row) != shape.Channels {
			return false
		}
	}
	return true
}

// PeakMagnitude returns the peak absolute sample value in the block,
// normalized to [0,1] against the int16 range.
func (b Block) PeakMagnitude() float64 {
	var peak int32
	for _, row := range b {
		for _, v := range row {
			av := int32(v)
			if av < 0 {
				av = -av
			}
			if av > peak {
				peak = av
			}
		}
	}
	return float64(peak) / float64(1<<15)
}

// EncodeBlock serializes a block into dst (which must be exactly
// shape.ByteLen() bytes), little-endian, row-major with channel inner.
func EncodeBlock(b Block, shape Shape, dst []byte) error {
	if !b.Matches(shape) {
		return perrors.ShapeMismatch(shapeString(shape), shapeString(blockShape(b)))
	}
	if len(dst) != shape.ByteLen() {
		return perrors.ShapeMismatch(shapeString(shape), "dst buffer wrong length")
	}
	i := 0
	for _, row := range b {
		for _, v := range row {
			binary.LittleEndian.PutUint16(dst[i:i+2], uint16(v))
			i += 2
		}
	}
	return nil
}

// DecodeBlock parses a datagram payload into a block of the given
// shape. The payload must be exactly shape.ByteLen() bytes.
func DecodeBlock(payload []byte, shape Shape) (Block, error) {
	if len(payload) != shape.ByteLen() {
		return nil, perrors.ShapeMismatch(shapeString(shape), "datagram wrong length")
	}
	b := NewBlock(shape)
	i := 0
	for r := 0; r < shape.BlockSize; r++ {
		for c := 0; c < shape.Channels; c++ {
			b[r][c] = int16(binary.LittleEndian.Uint16(payload[i : i+2]))
			i += 2
		}
	}
	return b, nil
}

func blockShape(b Block) Shape {
	channels := 0
	if len(b) > 0 {
		channels = len(b[0])
	}
	return Shape{BlockSize: len(b), Channels: channels}
}

func shapeString(s Shape) string {
	return strconv.Itoa(s.BlockSize) + "x" + strconv.Itoa(s.Channels)
}
