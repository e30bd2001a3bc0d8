// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package configwriter converts operator-intent payloads into
// outbound CAN frames, applies them to the Inventory Store, and
// records audit + history atomically, per spec section 4.5.
package configwriter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canmaster/can-backend/internal/codec"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/protocol"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/pkg/log"
)

// ErrUnknownNode is returned when an UPDATE_NODE_CONFIG targets a node
// the Inventory Store has never seen.
var ErrUnknownNode = errors.New("configwriter: unknown node")

// ErrInvalidSubModIdx is returned when a SUBMODULE update names an
// index outside 0..7.
var ErrInvalidSubModIdx = errors.New("configwriter: sub-module index out of range")

// ConfigTarget selects which shape an UpdateRequest carries.
type ConfigTarget int

const (
	TargetParent ConfigTarget = iota
	TargetSubmodule
)

// ParentUpdate is the PARENT-shaped payload of UPDATE_NODE_CONFIG.
type ParentUpdate struct {
	NodeTypeMsg uint32
	NodeTypeDLC uint8
	SubModCnt   int
}

// SubmoduleUpdate is the SUBMODULE-shaped payload of
// UPDATE_NODE_CONFIG.
type SubmoduleUpdate struct {
	SubModIdx  int
	IntroMsgID uint32
	DataMsgID  uint32
	DataMsgDLC uint8
	RawConfig  [3]byte
}

// UpdateRequest is one operator UPDATE_NODE_CONFIG message.
type UpdateRequest struct {
	NodeIdHex string
	Target    ConfigTarget
	Parent    ParentUpdate
	Submodule SubmoduleUpdate
	Actor     string
}

// OutboundFrame is one frame the caller must hand to the Bus Port.
type OutboundFrame struct {
	ID      uint32
	Payload [8]byte
}

// Result reports what Apply did, so the engine loop knows whether to
// emit frames, broadcast audit updates, or send UPDATE_ACK.
type Result struct {
	Changed     bool
	Frames      []OutboundFrame
	AuditIDs    []int64
	NodeIdHex   string
	SubModIdx   int
}

// InventoryWriter is the persistence surface Apply needs from
// internal/repository.InventoryRepository.
type InventoryWriter interface {
	UpsertWithin(t *repository.Transaction, n *inventory.Node) error
}

// HistoryWriter is the persistence surface Apply needs from
// internal/repository.HistoryRepository.
type HistoryWriter interface {
	InsertWithin(t *repository.Transaction, e repository.HistoryEntry) error
}

// AuditWriter is the persistence surface Apply needs from
// internal/repository.AuditRepository.
type AuditWriter interface {
	InsertWithin(t *repository.Transaction, e repository.AuditEntry) (int64, error)
}

// Writer owns the persistence handles Apply needs.
type Writer struct {
	store     *inventory.Store
	invRepo   InventoryWriter
	histRepo  HistoryWriter
	auditRepo AuditWriter
}

// NewWriter builds a Writer over store, persisting through the given
// repositories.
func NewWriter(store *inventory.Store, invRepo InventoryWriter, histRepo HistoryWriter, auditRepo AuditWriter) *Writer {
	return &Writer{store: store, invRepo: invRepo, histRepo: histRepo, auditRepo: auditRepo}
}

type fieldChange struct {
	field    string
	oldValue interface{}
	newValue interface{}
}

// Apply runs the full algorithm of spec section 4.5: diff against
// in-memory state, build outbound frames for changed field groups,
// mutate the Node, and persist inventory + history + audit atomically.
// If no field actually changed, Apply performs no writes and returns
// Result{Changed: false}.
func (w *Writer) Apply(req UpdateRequest) (Result, error) {
	node := w.store.GetNode(req.NodeIdHex)
	if node == nil {
		return Result{}, ErrUnknownNode
	}

	nodeIdBytes, err := codec.DecodeNodeIdHex(req.NodeIdHex)
	if err != nil {
		return Result{}, err
	}

	var frames []OutboundFrame
	var changes []fieldChange

	switch req.Target {
	case TargetParent:
		frames, changes = w.applyParent(node, req.Parent)
	case TargetSubmodule:
		if req.Submodule.SubModIdx < 0 || req.Submodule.SubModIdx >= inventory.MaxSubModules {
			return Result{}, ErrInvalidSubModIdx
		}
		frames, changes, err = w.applySubmodule(node, nodeIdBytes, req.Submodule)
		if err != nil {
			return Result{}, err
		}
	}

	if len(changes) == 0 {
		return Result{Changed: false, NodeIdHex: req.NodeIdHex}, nil
	}

	now := time.Now().UnixMilli()
	node.LastSeen = now

	t, err := repository.BeginTransaction()
	if err != nil {
		return Result{}, err
	}
	defer t.Rollback()

	snapshot, err := json.Marshal(node.SubModule)
	if err != nil {
		return Result{}, err
	}
	if err := w.histRepo.InsertWithin(t, repository.HistoryEntry{
		NodeId:     node.NodeId,
		RecordedAt: now,
		ConfigCRC:  node.ConfigCRC,
		Snapshot:   string(snapshot),
	}); err != nil {
		return Result{}, err
	}

	if err := w.invRepo.UpsertWithin(t, node); err != nil {
		return Result{}, err
	}

	var auditIDs []int64
	subIdx := -1
	if req.Target == TargetSubmodule {
		subIdx = req.Submodule.SubModIdx
	}
	for _, c := range changes {
		oldJSON, _ := json.Marshal(c.oldValue)
		newJSON, _ := json.Marshal(c.newValue)
		id, err := w.auditRepo.InsertWithin(t, repository.AuditEntry{
			NodeId:    node.NodeId,
			CreatedAt: now,
			Actor:     req.Actor,
			Action:    fmt.Sprintf("update:%s", c.field),
			Detail:    fmt.Sprintf(`{"old":%s,"new":%s}`, oldJSON, newJSON),
		})
		if err != nil {
			return Result{}, err
		}
		auditIDs = append(auditIDs, id)
	}

	if err := t.Commit(); err != nil {
		return Result{}, err
	}

	return Result{
		Changed:   true,
		Frames:    frames,
		AuditIDs:  auditIDs,
		NodeIdHex: req.NodeIdHex,
		SubModIdx: subIdx,
	}, nil
}

func (w *Writer) applyParent(node *inventory.Node, p ParentUpdate) ([]OutboundFrame, []fieldChange) {
	var changes []fieldChange

	if node.NodeTypeMsg != p.NodeTypeMsg {
		changes = append(changes, fieldChange{"nodeTypeMsg", node.NodeTypeMsg, p.NodeTypeMsg})
		node.NodeTypeMsg = p.NodeTypeMsg
	}
	if node.NodeTypeDLC != p.NodeTypeDLC {
		changes = append(changes, fieldChange{"nodeTypeDlc", node.NodeTypeDLC, p.NodeTypeDLC})
		node.NodeTypeDLC = p.NodeTypeDLC
	}
	if node.SubModCnt != p.SubModCnt {
		changes = append(changes, fieldChange{"subModCnt", node.SubModCnt, p.SubModCnt})
		node.SubModCnt = p.SubModCnt
	}

	// Parent-level edits have no dedicated wire frame in spec section
	// 4.5; they take effect in the inventory and are only observed by
	// the node on its next interview.
	return nil, changes
}

func (w *Writer) applySubmodule(node *inventory.Node, nodeIdBytes [4]byte, u SubmoduleUpdate) ([]OutboundFrame, []fieldChange, error) {
	sub := node.SubModule[u.SubModIdx]
	if sub == nil {
		sub = &inventory.SubModule{SubModIdx: u.SubModIdx}
		node.SubModule[u.SubModIdx] = sub
	}

	var changes []fieldChange
	var frames []OutboundFrame

	dataChanged := sub.DataMsgID != u.DataMsgID || sub.DataMsgDLC != u.DataMsgDLC
	if dataChanged {
		if sub.DataMsgID != u.DataMsgID {
			changes = append(changes, fieldChange{"dataMsgId", sub.DataMsgID, u.DataMsgID})
		}
		if sub.DataMsgDLC != u.DataMsgDLC {
			changes = append(changes, fieldChange{"dataMsgDlc", sub.DataMsgDLC, u.DataMsgDLC})
		}
		sub.DataMsgID = u.DataMsgID
		sub.DataMsgDLC = u.DataMsgDLC

		hi, lo := codec.SplitBE16(uint16(u.DataMsgID))
		payload := codec.PackBE8(nodeIdBytes[0], nodeIdBytes[1], nodeIdBytes[2], nodeIdBytes[3],
			byte(u.SubModIdx), hi, lo, u.DataMsgDLC)
		frames = append(frames, OutboundFrame{ID: protocol.CfgSubDataMsgID, Payload: payload})
	}

	if sub.RawConfig != u.RawConfig {
		changes = append(changes, fieldChange{"rawConfig", sub.RawConfig, u.RawConfig})
		sub.RawConfig = u.RawConfig

		payload := codec.PackBE8(nodeIdBytes[0], nodeIdBytes[1], nodeIdBytes[2], nodeIdBytes[3],
			byte(u.SubModIdx), u.RawConfig[0], u.RawConfig[1], u.RawConfig[2])
		frames = append(frames, OutboundFrame{ID: protocol.CfgSubRawDataID, Payload: payload})
	}

	if sub.IntroMsgID != u.IntroMsgID && u.IntroMsgID != 0 {
		changes = append(changes, fieldChange{"introMsgId", sub.IntroMsgID, u.IntroMsgID})
		sub.IntroMsgID = u.IntroMsgID
	}

	if len(changes) == 0 {
		log.Debugf("configwriter: node %s sub %d update is a no-op", node.NodeId, u.SubModIdx)
	}

	return frames, changes, nil
}
