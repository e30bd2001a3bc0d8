// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine runs the single logical event loop the rest of the
// master is built around (§5): it owns the Inventory Store, the
// Interview Machine, the Config Writer and the Housekeeping
// Scheduler, and is the only component that mutates any of them
// (gateway connections and the admin surface only read Store
// snapshots). Every inbound source (received CAN frames, operator
// requests, the housekeeping clock) is multiplexed onto one
// goroutine's select loop, so none of those components need locking
// of their own.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/canmaster/can-backend/internal/admin"
	"github.com/canmaster/can-backend/internal/canbus"
	"github.com/canmaster/can-backend/internal/configwriter"
	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/canmaster/can-backend/internal/gateway"
	"github.com/canmaster/can-backend/internal/interview"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/protocol"
	"github.com/canmaster/can-backend/internal/scheduler"
	"github.com/canmaster/can-backend/pkg/log"
)

// Mirror is the optional best-effort broadcast side-channel (pkg/nats)
// used to mirror every CAN_MESSAGE off-box, on the subject
// "canmaster.can_message". Other broadcasts are not mirrored. A nil
// Mirror is a valid Engine and simply skips publishing.
type Mirror interface {
	Publish(subject string, data []byte) error
}

// CommentWriter is the persistence surface the engine needs from
// internal/repository.CommentRepository to service SAVE_AUDIT_COMMENT.
type CommentWriter interface {
	Upsert(nodeId string, subModIdx int, comment string, updatedAt int64) error
}

// Engine wires every core component together and runs the event loop.
type Engine struct {
	store        *inventory.Store
	bus          canbus.Port
	gw           *gateway.Gateway
	interview    *interview.Machine
	cfgWriter    *configwriter.Writer
	housekeeping *scheduler.Housekeeping
	defs         *definitions.Registry
	comments     CommentWriter
	metrics      *admin.Metrics
	mirror       Mirror

	frames chan canbus.Frame
}

// New builds an Engine. mirror may be nil.
func New(
	store *inventory.Store,
	bus canbus.Port,
	gw *gateway.Gateway,
	im *interview.Machine,
	cfgWriter *configwriter.Writer,
	hk *scheduler.Housekeeping,
	defs *definitions.Registry,
	comments CommentWriter,
	metrics *admin.Metrics,
	mirror Mirror,
) *Engine {
	return &Engine{
		store:        store,
		bus:          bus,
		gw:           gw,
		interview:    im,
		cfgWriter:    cfgWriter,
		housekeeping: hk,
		defs:         defs,
		comments:     comments,
		metrics:      metrics,
		mirror:       mirror,
		frames:       make(chan canbus.Frame, 256),
	}
}

// Run subscribes to the bus, starts its connection, and blocks
// servicing the event loop until ctx is cancelled. It always returns
// the bus's Close error, if any.
func (e *Engine) Run(ctx context.Context) error {
	e.bus.OnFrame(func(f canbus.Frame) {
		select {
		case e.frames <- f:
		default:
			log.Warnf("engine: frame queue full, dropping frame 0x%03x", f.ID)
		}
	})

	go func() {
		if err := e.bus.Run(); err != nil {
			log.Errorf("engine: bus connection ended: %v", err)
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.bus.Close()
		case f := <-e.frames:
			e.handleFrame(f)
		case req := <-e.gw.Inbound:
			e.handleOperatorRequest(req)
		case now := <-ticker.C:
			e.handleTick(now)
		}
	}
}

func (e *Engine) handleFrame(f canbus.Frame) {
	data := f.Data[:f.DLC]
	now := time.Now().UnixMilli()

	e.metrics.FramesTotal.WithLabelValues(admin.IDRangeLabel(f.ID)).Inc()
	e.gw.BroadcastCanMessage(f.ID, data, now)
	e.mirrorCanMessage(f.ID, data, now)

	if !protocol.IsIntroRange(f.ID) {
		return
	}

	outcome, err := e.interview.HandleFrame(f.ID, data)
	if err != nil {
		log.Errorf("engine: interview frame 0x%03x: %v", f.ID, err)
		return
	}

	if outcome.Drifted {
		e.metrics.CrcDriftTotal.Inc()
	}
	if outcome.NodeComplete {
		e.metrics.IntrosCompletedTotal.Inc()
	}
	if outcome.Ack {
		id, payload := interview.BuildAckFrame(outcome.NodeId)
		e.sendFrame(id, payload)
	}
	if outcome.Mutated {
		e.gw.BroadcastDatabaseUpdate()
	}
}

func (e *Engine) handleTick(now time.Time) {
	for _, f := range e.housekeeping.Tick(now) {
		e.sendFrame(f.ID, f.Payload)
	}
}

func (e *Engine) handleOperatorRequest(req gateway.InboundRequest) {
	switch req.Kind {
	case gateway.KindUpdateNodeConfig:
		e.handleUpdateNodeConfig(req)
	case gateway.KindRequestNodeInterview:
		e.handleRequestNodeInterview(req)
	case gateway.KindSaveAuditComment:
		e.handleSaveAuditComment(req)
	case gateway.KindSaveToBus:
		// Reserved (§9 open question 3): acknowledged, drives no wire
		// behavior beyond what UPDATE_NODE_CONFIG already sent.
		var p gateway.SaveToBusPayload
		if err := json.Unmarshal(req.Payload, &p); err == nil {
			e.gw.BroadcastUpdateAck(p.NodeId, -1, true)
		}
	}
}

func (e *Engine) handleUpdateNodeConfig(req gateway.InboundRequest) {
	var p gateway.UpdateNodeConfigPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		log.Warnf("engine: malformed UPDATE_NODE_CONFIG from %s: %v", req.Port.Actor(), err)
		return
	}

	update := configwriter.UpdateRequest{
		NodeIdHex: p.NodeId,
		Actor:     req.Port.Actor(),
	}
	if p.Target == gateway.TargetSubmodule {
		update.Target = configwriter.TargetSubmodule
		if p.Submodule != nil {
			update.Submodule = configwriter.SubmoduleUpdate{
				SubModIdx:  p.Submodule.SubModIdx,
				IntroMsgID: p.Submodule.IntroMsgId,
				DataMsgID:  p.Submodule.DataMsgId,
				DataMsgDLC: p.Submodule.DataMsgDlc,
				RawConfig:  p.Submodule.RawConfig,
			}
		}
	} else {
		update.Target = configwriter.TargetParent
		if p.Parent != nil {
			update.Parent = configwriter.ParentUpdate{
				NodeTypeMsg: p.Parent.NodeTypeMsg,
				NodeTypeDLC: p.Parent.NodeTypeDlc,
				SubModCnt:   p.Parent.SubModCnt,
			}
		}
	}

	result, err := e.cfgWriter.Apply(update)
	if err != nil {
		log.Warnf("engine: UPDATE_NODE_CONFIG for %s rejected: %v", p.NodeId, err)
		return
	}

	for _, f := range result.Frames {
		e.sendFrame(f.ID, f.Payload)
	}

	if result.Changed {
		e.metrics.ConfigWritesTotal.Inc()
		e.gw.BroadcastDatabaseUpdate()
		e.gw.BroadcastAuditLogUpdate()
		e.gw.BroadcastUpdateAck(result.NodeIdHex, result.SubModIdx, true)
	}
}

func (e *Engine) handleRequestNodeInterview(req gateway.InboundRequest) {
	var p gateway.RequestNodeInterviewPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		log.Warnf("engine: malformed REQUEST_NODE_INTERVIEW from %s: %v", req.Port.Actor(), err)
		return
	}

	_, id, payload, err := e.interview.RequestReinterview(p.NodeId)
	if err != nil {
		log.Warnf("engine: REQUEST_NODE_INTERVIEW for %s rejected: %v", p.NodeId, err)
		e.gw.BroadcastUpdateAck(p.NodeId, -1, false)
		return
	}

	e.sendFrame(id, payload)
	e.gw.BroadcastDatabaseUpdate()
	e.gw.BroadcastUpdateAck(p.NodeId, -1, true)
}

func (e *Engine) handleSaveAuditComment(req gateway.InboundRequest) {
	var p gateway.SaveAuditCommentPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		log.Warnf("engine: malformed SAVE_AUDIT_COMMENT from %s: %v", req.Port.Actor(), err)
		return
	}

	if err := e.comments.Upsert(p.NodeId, p.SubModIdx, p.Comment, time.Now().UnixMilli()); err != nil {
		log.Errorf("engine: saving comment for %s/%d: %v", p.NodeId, p.SubModIdx, err)
		return
	}
	e.gw.BroadcastAuditLogUpdate()
}

func (e *Engine) sendFrame(id uint32, payload [8]byte) {
	if err := e.bus.Send(canbus.Frame{ID: id, Data: payload, DLC: 8}); err != nil {
		log.Warnf("engine: send frame 0x%03x: %v", id, err)
	}
}

func (e *Engine) mirrorCanMessage(id uint32, data []byte, timestampMs int64) {
	if e.mirror == nil {
		return
	}
	raw, err := json.Marshal(gateway.CanMessagePayload{
		ID: id, Name: e.defs.NameFor(id), Data: data, Timestamp: timestampMs,
	})
	if err != nil {
		return
	}
	if err := e.mirror.Publish("canmaster.can_message", raw); err != nil {
		log.Debugf("engine: nats mirror publish: %v", err)
	}
}
