// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scheduler

import (
	"testing"
	"time"

	"github.com/canmaster/can-backend/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTick_FirstCallFiresBoth(t *testing.T) {
	h := New(30*time.Minute, 10*time.Second, [4]byte{0x19, 0x00, 0x00, 0x19})
	frames := h.Tick(time.UnixMilli(1000))

	require.Len(t, frames, 2)
	assert.Equal(t, uint32(protocol.ReqNodeIntro), frames[0].ID)
	assert.Equal(t, [4]byte{0x19, 0x00, 0x00, 0x19}, [4]byte{frames[0].Payload[0], frames[0].Payload[1], frames[0].Payload[2], frames[0].Payload[3]})
	assert.Equal(t, uint32(protocol.DataEpochID), frames[1].ID)
}

func TestTick_QuietPeriodFiresNothing(t *testing.T) {
	h := New(30*time.Minute, 10*time.Second, [4]byte{})
	_ = h.Tick(time.UnixMilli(1000))

	frames := h.Tick(time.UnixMilli(1500))
	assert.Empty(t, frames)
}

func TestTick_OnlySendTsFiresOnItsOwnPeriod(t *testing.T) {
	h := New(30*time.Minute, 10*time.Second, [4]byte{})
	_ = h.Tick(time.UnixMilli(1000))

	frames := h.Tick(time.UnixMilli(1000 + 11*1000))
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(protocol.DataEpochID), frames[0].ID)
}

func TestTick_ReqIntroFiresAfterItsOwnPeriod(t *testing.T) {
	h := New(30*time.Minute, 10*time.Second, [4]byte{})
	_ = h.Tick(time.UnixMilli(1000))

	frames := h.Tick(time.UnixMilli(1000 + 31*60*1000))
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(protocol.ReqNodeIntro), frames[0].ID)
	assert.Equal(t, uint32(protocol.DataEpochID), frames[1].ID)
}
