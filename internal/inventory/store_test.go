// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	s := New()
	n1, created1 := s.GetOrCreate("19000019")
	require.True(t, created1)
	n2, created2 := s.GetOrCreate("19000019")
	assert.False(t, created2)
	assert.Same(t, n1, n2)
	assert.Equal(t, 0, n1.LastSubModIdx)
	assert.Empty(t, n1.SubModule)
}

func TestResetNodeInterviewState(t *testing.T) {
	s := New()
	n, _ := s.GetOrCreate("19000019")
	n.SubModCnt = 2
	n.LastSubModIdx = 1
	n.IntroComplete = true
	n.SubModule[0] = &SubModule{SubModIdx: 0, PartAComplete: true, PartBComplete: true}

	reset := s.ResetNodeInterviewState("19000019")
	require.NotNil(t, reset)
	assert.Empty(t, reset.SubModule)
	assert.Equal(t, 0, reset.LastSubModIdx)
	assert.False(t, reset.IntroComplete)
	assert.Equal(t, 2, reset.SubModCnt, "subModCnt is untouched by a reset")
}

func TestResetUnknownNodeIsNoop(t *testing.T) {
	s := New()
	assert.Nil(t, s.ResetNodeInterviewState("deadbeef"))
}

func TestSnapshotAllIsIndependentCopy(t *testing.T) {
	s := New()
	n, _ := s.GetOrCreate("19000019")
	n.SubModule[0] = &SubModule{SubModIdx: 0}

	snap := s.SnapshotAll()
	snap["19000019"].SubModule[0].RawConfig[0] = 0xFF

	assert.NotEqual(t, byte(0xFF), n.SubModule[0].RawConfig[0], "snapshot must not alias live state")
}

func TestNodeCloneCopiesCRC(t *testing.T) {
	n := NewNode("19000019")
	crc := uint16(0x12)
	n.ConfigCRC = &crc

	cp := n.Clone()
	*cp.ConfigCRC = 0x99

	assert.Equal(t, uint16(0x12), *n.ConfigCRC)
}

func TestAllInterviewed(t *testing.T) {
	n := NewNode("19000019")
	n.SubModCnt = 2
	assert.False(t, n.AllInterviewed())
	n.LastSubModIdx = 1
	assert.True(t, n.AllInterviewed())
}
