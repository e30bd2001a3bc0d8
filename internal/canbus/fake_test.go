// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBus_SendRecordsFrame(t *testing.T) {
	b := NewFakeBus()
	require.NoError(t, b.Send(Frame{ID: 0x100, Data: [8]byte{1, 2, 3}, DLC: 3}))
	require.Len(t, b.Sent, 1)
	assert.Equal(t, uint32(0x100), b.Sent[0].ID)
}

func TestFakeBus_InjectInvokesHandler(t *testing.T) {
	b := NewFakeBus()
	var got Frame
	b.OnFrame(func(f Frame) { got = f })

	b.Inject(Frame{ID: 0x780, Data: [8]byte{0x19, 0, 0, 0x19}, DLC: 8})
	assert.Equal(t, uint32(0x780), got.ID)
}

func TestFakeBus_InjectBeforeOnFrameIsNoop(t *testing.T) {
	b := NewFakeBus()
	assert.NotPanics(t, func() { b.Inject(Frame{ID: 0x100}) })
}

var _ Port = (*FakeBus)(nil)
