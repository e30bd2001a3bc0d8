// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler holds the two housekeeping concerns of the
// engine: periodic emitters the engine checks once a second (§4.6;
// they are not checked per inbound frame), and the supplemental node_history retention job that runs on
// its own gocron schedule (§9 supplement).
package scheduler

import (
	"time"

	"github.com/canmaster/can-backend/internal/codec"
	"github.com/canmaster/can-backend/internal/protocol"
)

// Frame is one outbound CAN frame the engine task must hand to the
// Bus Port.
type Frame struct {
	ID      uint32
	Payload [8]byte
}

// Housekeeping tracks the two lazily-checked timers of the engine
// task. It keeps no goroutine of its own: the engine calls Tick from
// its one-second ticker, and Tick decides whether either timer has
// elapsed. An inbound frame does not trigger a Tick call.
type Housekeeping struct {
	maxReqIntro    time.Duration
	sendTsInterval time.Duration
	masterNodeId   [4]byte

	lastReqIntro int64 // unix ms
	lastTsMsg    int64 // unix ms
}

// New builds a Housekeeping with the given periods and the master's
// own NodeId, used as the broadcast-wildcard target of REQ_NODE_INTRO.
func New(maxReqIntro, sendTsInterval time.Duration, masterNodeId [4]byte) *Housekeeping {
	return &Housekeeping{
		maxReqIntro:    maxReqIntro,
		sendTsInterval: sendTsInterval,
		masterNodeId:   masterNodeId,
	}
}

// Tick reports which housekeeping frames, if any, are due as of now.
// Both timers can fire on the same call; callers send whatever is
// returned, in order, before dequeuing the next inbound frame.
func (h *Housekeeping) Tick(now time.Time) []Frame {
	nowMs := now.UnixMilli()
	var frames []Frame

	if h.lastReqIntro == 0 || nowMs-h.lastReqIntro > h.maxReqIntro.Milliseconds() {
		payload := codec.PackBE8(h.masterNodeId[0], h.masterNodeId[1], h.masterNodeId[2], h.masterNodeId[3])
		frames = append(frames, Frame{ID: protocol.ReqNodeIntro, Payload: payload})
		h.lastReqIntro = nowMs
	}

	if h.lastTsMsg == 0 || nowMs-h.lastTsMsg > h.sendTsInterval.Milliseconds() {
		frames = append(frames, Frame{ID: protocol.DataEpochID, Payload: codec.PackEpoch(nowMs)})
		h.lastTsMsg = nowMs
	}

	return frames
}
