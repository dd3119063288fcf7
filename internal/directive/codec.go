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

package directive

import (
	"encoding/binary"
	"encoding/json"

	"github.com/golang/snappy"

	perrors "patchmesh/internal/errors"
)

const (
	magicByte   byte = 0xFD
	wireVersion byte = 0x01
	headerSize       = 8 // magic, version, tag, flags, 4-byte length
)

// Flag is a bitmask carried in the header's flags byte.
type Flag byte

// FlagCompressed marks the payload as Snappy-compressed (set by
// Module.Broadcast for large snapshot bundles).
const FlagCompressed Flag = 1 << 0

// Header is the fixed-size prefix of every directive datagram.
type Header struct {
	Magic   byte
	Version byte
	Tag     Tag
	Flags   Flag
	Length  uint32
}

// Encode serializes d into a complete datagram: header followed by its
// JSON payload. flags lets the caller (Module.Broadcast) request
// FlagCompressed to have the JSON payload Snappy-compressed before it
// is written to the wire.
func Encode(d Directive, flags Flag) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, perrors.Decode("failed to marshal directive payload", err)
	}
	if flags&FlagCompressed != 0 {
		payload = snappy.Encode(nil, payload)
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = magicByte
	buf[1] = wireVersion
	buf[2] = byte(d.DirectiveTag())
	buf[3] = byte(flags)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Decode parses a datagram into its Header and a constructed Directive.
// A Tag the decoder does not recognize produces ok=false with a nil
// error: the caller should skip the datagram and continue, per spec
// §4.1's unknown-variant-decodes-to-skip contract.
func Decode(datagram []byte) (hdr Header, d Directive, ok bool, err error) {
	if len(datagram) < headerSize {
		return hdr, nil, false, perrors.Truncated(headerSize, len(datagram))
	}

	hdr = Header{
		Magic:   datagram[0],
		Version: datagram[1],
		Tag:     Tag(datagram[2]),
		Flags:   Flag(datagram[3]),
		Length:  binary.BigEndian.Uint32(datagram[4:8]),
	}
	if hdr.Magic != magicByte {
		return hdr, nil, false, perrors.BadMagic(hdr.Magic)
	}
	if hdr.Version != wireVersion {
		return hdr, nil, false, perrors.BadVersion(hdr.Version)
	}
	if int(hdr.Length) > len(datagram)-headerSize {
		return hdr, nil, false, perrors.Truncated(int(hdr.Length), len(datagram)-headerSize)
	}
	payload := datagram[headerSize : headerSize+int(hdr.Length)]
	if hdr.Flags&FlagCompressed != 0 {
		decompressed, derr := snappy.Decode(nil, payload)
		if derr != nil {
			return hdr, nil, false, perrors.Decode("failed to decompress directive payload", derr)
		}
		payload = decompressed
	}

	switch hdr.Tag {
	case TagUpdate:
		var v Update
		err = json.Unmarshal(payload, &v)
		d = v
	case TagHalt:
		var v Halt
		err = json.Unmarshal(payload, &v)
		d = v
	case TagSnapshotRequest:
		var v SnapshotRequest
		err = json.Unmarshal(payload, &v)
		d = v
	case TagSnapshotResponse:
		var v SnapshotResponse
		err = json.Unmarshal(payload, &v)
		d = v
	case TagSetPreset:
		var v SetPreset
		err = json.Unmarshal(payload, &v)
		d = v
	case TagSetInputJack:
		var v SetInputJack
		err = json.Unmarshal(payload, &v)
		d = v
	case TagSetOutputJack:
		var v SetOutputJack
		err = json.Unmarshal(payload, &v)
		d = v
	case TagHeartbeat:
		var v Heartbeat
		err = json.Unmarshal(payload, &v)
		d = v
	case TagHeartbeatResponse:
		var v HeartbeatResponse
		err = json.Unmarshal(payload, &v)
		d = v
	case TagRequestVote:
		var v RequestVote
		err = json.Unmarshal(payload, &v)
		d = v
	case TagRequestVoteResponse:
		var v RequestVoteResponse
		err = json.Unmarshal(payload, &v)
		d = v
	case TagGlobalStateUpdate:
		var v GlobalStateUpdate
		err = json.Unmarshal(payload, &v)
		d = v
	default:
		return hdr, nil, false, nil
	}

	if err != nil {
		return hdr, nil, false, perrors.Decode("failed to unmarshal directive payload", err)
	}
	return hdr, d, true, nil
}
