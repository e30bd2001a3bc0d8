// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeNodeId(t *testing.T) {
	id := [NodeIdLen]byte{0x19, 0x00, 0x00, 0x19}
	assert.Equal(t, "19000019", EncodeNodeId(id))

	payload := []byte{0x19, 0x00, 0x00, 0x19, 0x02, 0x00, 0x12, 0x00}
	got, err := DecodeNodeId(payload)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeNodeIdTooShort(t *testing.T) {
	_, err := DecodeNodeId([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrInsufficientPayload)
}

func TestPackBE8(t *testing.T) {
	buf := PackBE8(0xAA, 0xBB, 0xCC)
	assert.Equal(t, [8]byte{0xAA, 0xBB, 0xCC, 0, 0, 0, 0, 0}, buf)
}

func TestPackBE8TruncatesOverlong(t *testing.T) {
	buf := PackBE8(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	assert.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
}

func TestPackEpoch(t *testing.T) {
	buf := PackEpoch(1_700_000_000_000)
	assert.Equal(t, [4]byte{0, 0, 0, 0}, [4]byte{buf[0], buf[1], buf[2], buf[3]})
	secs := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	assert.Equal(t, uint32(1_700_000_000), secs)
}

func TestUnpackByteSeven(t *testing.T) {
	got := UnpackByteSeven(0x88)
	assert.Equal(t, ByteSeven{DLC: 8, SaveState: true}, got)

	got = UnpackByteSeven(0x05)
	assert.Equal(t, ByteSeven{DLC: 5, SaveState: false}, got)
}

func TestPackByteSevenRoundTrip(t *testing.T) {
	b := PackByteSeven(6, true)
	assert.Equal(t, byte(0x86), b)
	assert.Equal(t, ByteSeven{DLC: 6, SaveState: true}, UnpackByteSeven(b))
}

func TestAssembleBE16(t *testing.T) {
	assert.Equal(t, uint16(0x0210), AssembleBE16(0x02, 0x10))
}

func TestDecodeNodeIdHexRoundTrip(t *testing.T) {
	id := [NodeIdLen]byte{0x19, 0x00, 0x00, 0x19}
	got, err := DecodeNodeIdHex(EncodeNodeId(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeNodeIdHexWrongLength(t *testing.T) {
	_, err := DecodeNodeIdHex("aabb")
	assert.Error(t, err)
}
