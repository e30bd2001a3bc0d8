// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package protocol holds the fixed CAN arbitration IDs and ID ranges
// that make up the wire protocol between the master and the nodes.
package protocol

// Arbitration ID ranges, all within the 11-bit standard frame space
// (0x000-0x7FF). The master never emits or expects extended frames.
const (
	// NodeIntroMin/Max bound the node-intro range: node -> master,
	// one frame per node announcing its sub-module count and CRC.
	NodeIntroMin = 0x780
	NodeIntroMax = 0x7FF

	// SubModIntroMin/Max bound the sub-module-intro range: node ->
	// master, two frames per sub-module (phase A and phase B).
	SubModIntroMin = 0x700
	SubModIntroMax = 0x77F
)

// Fixed, single-value arbitration IDs. All sit below SubModIntroMin so
// they never collide with the 0x700-0x7FF intro ranges, and at or
// above MinArbitrationID so every frame the master emits is a valid 11-bit
// standard ID per the wire format.
const (
	// ReqNodeIntro: master -> all. Solicits a full node-intro from the
	// node identified by the NodeId in the payload (broadcast-wildcard
	// is the master's own NodeId).
	ReqNodeIntro = 0x100

	// ReqAckIntro: master -> node. Acknowledges an intro-range frame
	// and solicits the next part of the interview.
	ReqAckIntro = 0x101

	// DataEpochID: master -> all. Carries the current Unix time.
	DataEpochID = 0x102

	// CfgSubDataMsgID: master -> node. Rewrites a sub-module's
	// dataMsgId/dataMsgDlc.
	CfgSubDataMsgID = 0x103

	// CfgSubRawDataID: master -> node. Rewrites a sub-module's raw
	// 3-byte configuration block.
	CfgSubRawDataID = 0x104
)

// MinArbitrationID/MaxArbitrationID bound the standard-frame space the
// protocol's IDs occupy. No code checks frames against them: the
// engine forwards every received frame on the live gateway feed,
// whatever its ID.
const (
	MinArbitrationID = 0x100
	MaxArbitrationID = 0x7FF
)

// IsNodeIntro reports whether id falls in the node-intro range.
func IsNodeIntro(id uint32) bool {
	return id >= NodeIntroMin && id <= NodeIntroMax
}

// IsSubModIntro reports whether id falls in the sub-module-intro range.
func IsSubModIntro(id uint32) bool {
	return id >= SubModIntroMin && id <= SubModIntroMax
}

// IsIntroRange reports whether id warrants interview handling at all.
func IsIntroRange(id uint32) bool {
	return IsNodeIntro(id) || IsSubModIntro(id)
}
