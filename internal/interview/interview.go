// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interview drives the two-phase node/sub-module discovery
// handshake from raw CAN frames, mutating the Inventory Store and
// persisting CRC-drift snapshots, per spec section 4.4.
package interview

import (
	"encoding/json"
	"time"

	"github.com/canmaster/can-backend/internal/codec"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/protocol"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/pkg/log"
)

// InventoryWriter is the persistence surface the Machine needs from
// internal/repository.InventoryRepository.
type InventoryWriter interface {
	UpsertWithin(t *repository.Transaction, n *inventory.Node) error
	Upsert(n *inventory.Node) error
}

// HistoryWriter is the persistence surface the Machine needs from
// internal/repository.HistoryRepository.
type HistoryWriter interface {
	InsertWithin(t *repository.Transaction, e repository.HistoryEntry) error
}

// Machine is the interview state machine. It owns no concurrency of
// its own: per spec section 5 every call happens on the single engine
// task, so Machine methods are not safe for concurrent use.
type Machine struct {
	store    *inventory.Store
	invRepo  InventoryWriter
	histRepo HistoryWriter
}

// NewMachine builds a Machine over store, persisting through invRepo
// and histRepo.
func NewMachine(store *inventory.Store, invRepo InventoryWriter, histRepo HistoryWriter) *Machine {
	return &Machine{store: store, invRepo: invRepo, histRepo: histRepo}
}

// Outcome reports what HandleFrame did, so the engine loop can decide
// whether to emit an ACK frame and/or broadcast an inventory update.
type Outcome struct {
	NodeId       [4]byte
	NodeIdHex    string
	Ack          bool
	Mutated      bool
	NodeComplete bool
	Drifted      bool
}

// HandleFrame dispatches id/payload to the node-intro or sub-module-
// intro handler. Frames outside both ranges are not this package's
// concern; callers should not route them here.
func (m *Machine) HandleFrame(id uint32, payload []byte) (Outcome, error) {
	if protocol.IsNodeIntro(id) {
		return m.handleNodeIntro(id, payload)
	}
	if protocol.IsSubModIntro(id) {
		return m.handleSubModIntro(id, payload)
	}
	return Outcome{}, nil
}

func (m *Machine) handleNodeIntro(id uint32, payload []byte) (Outcome, error) {
	nodeIdBytes, err := codec.DecodeNodeId(payload)
	if err != nil {
		log.Debugf("interview: node-intro frame 0x%03x dropped: %v", id, err)
		return Outcome{}, nil
	}
	if err := codec.RequirePayload(payload, 7, "node-intro"); err != nil {
		log.Debugf("interview: %v", err)
		return Outcome{}, nil
	}

	nodeIdHex := codec.EncodeNodeId(nodeIdBytes)
	node, created := m.store.GetOrCreate(nodeIdHex)
	now := time.Now().UnixMilli()

	subModCnt := int(payload[4])
	incomingCrc := codec.AssembleBE16(payload[5], payload[6])

	driftedFromPrior := !created && node.ConfigCRC != nil && *node.ConfigCRC != incomingCrc
	var prior *inventory.Node
	if driftedFromPrior {
		prior = node.Clone()
	}

	node.NodeTypeMsg = id
	node.NodeTypeDLC = 8
	node.SubModCnt = subModCnt
	node.ConfigCRC = &incomingCrc
	node.LastSeen = now
	if node.FirstSeen == 0 {
		node.FirstSeen = now
	}

	if err := m.persist(node, prior); err != nil {
		log.Errorf("interview: persisting node %s: %v", nodeIdHex, err)
	}

	outcome := Outcome{NodeId: nodeIdBytes, NodeIdHex: nodeIdHex, Mutated: true, Drifted: driftedFromPrior}
	if node.AllInterviewed() {
		node.IntroComplete = true
		outcome.NodeComplete = true
		outcome.Ack = false
	} else {
		outcome.Ack = true
	}
	return outcome, nil
}

func (m *Machine) handleSubModIntro(id uint32, payload []byte) (Outcome, error) {
	nodeIdBytes, err := codec.DecodeNodeId(payload)
	if err != nil {
		log.Debugf("interview: sub-module-intro frame 0x%03x dropped: %v", id, err)
		return Outcome{}, nil
	}
	if err := codec.RequirePayload(payload, 8, "sub-module-intro"); err != nil {
		log.Debugf("interview: %v", err)
		return Outcome{}, nil
	}

	nodeIdHex := codec.EncodeNodeId(nodeIdBytes)
	node := m.store.GetNode(nodeIdHex)
	if node == nil {
		log.Debugf("interview: sub-module-intro for unknown node %s dropped", nodeIdHex)
		return Outcome{}, nil
	}

	tag := payload[4]
	workingIdx := int(tag & 0x7F)
	isPartB := tag >= 0x80
	if workingIdx >= inventory.MaxSubModules {
		log.Debugf("interview: sub-module index %d out of range, dropped", workingIdx)
		return Outcome{}, nil
	}

	sub := node.SubModule[workingIdx]
	if sub != nil && sub.Interviewed() {
		return Outcome{}, nil
	}
	if sub == nil {
		sub = &inventory.SubModule{}
		node.SubModule[workingIdx] = sub
	}

	now := time.Now().UnixMilli()
	sub.SubModIdx = workingIdx
	sub.LastSeen = now
	sub.IntroMsgID = id
	sub.IntroMsgDLC = 8

	if !isPartB {
		copy(sub.RawConfig[:], payload[5:8])
		sub.PartAComplete = true
	} else {
		sub.DataMsgID = uint32(codec.AssembleBE16(payload[5], payload[6]))
		bs := codec.UnpackByteSeven(payload[7])
		sub.DataMsgDLC = bs.DLC
		sub.SaveState = bs.SaveState
		sub.PartBComplete = true
	}

	outcome := Outcome{NodeId: nodeIdBytes, NodeIdHex: nodeIdHex, Ack: true, Mutated: true}
	if sub.Interviewed() {
		node.LastSubModIdx = workingIdx
		if err := m.persist(node, nil); err != nil {
			log.Errorf("interview: persisting node %s: %v", nodeIdHex, err)
		}
	}
	return outcome, nil
}

// persist upserts node's inventory row. When prior is non-nil it first
// archives it as a HistorySnapshot in the same transaction, per the
// CRC-drift snapshot law (spec section 8 property 1).
func (m *Machine) persist(node *inventory.Node, prior *inventory.Node) error {
	if prior == nil {
		return m.invRepo.Upsert(node)
	}

	snapshot, err := json.Marshal(prior.SubModule)
	if err != nil {
		return err
	}

	t, err := repository.BeginTransaction()
	if err != nil {
		return err
	}
	defer t.Rollback()

	if err := m.histRepo.InsertWithin(t, repository.HistoryEntry{
		NodeId:     prior.NodeId,
		RecordedAt: node.LastSeen,
		ConfigCRC:  prior.ConfigCRC,
		Snapshot:   string(snapshot),
	}); err != nil {
		return err
	}

	if err := m.invRepo.UpsertWithin(t, node); err != nil {
		return err
	}

	return t.Commit()
}

// RequestReinterview implements REQUEST_NODE_INTERVIEW (spec section
// 4.4.4): clears the node's interview state and returns the frame the
// caller should send to solicit a fresh node-intro.
func (m *Machine) RequestReinterview(nodeIdHex string) (*inventory.Node, uint32, [8]byte, error) {
	node := m.store.ResetNodeInterviewState(nodeIdHex)
	if node == nil {
		return nil, 0, [8]byte{}, ErrUnknownNode
	}

	idBytes, err := codec.DecodeNodeIdHex(nodeIdHex)
	if err != nil {
		return nil, 0, [8]byte{}, err
	}

	payload := codec.PackBE8(idBytes[0], idBytes[1], idBytes[2], idBytes[3])
	return node, protocol.ReqNodeIntro, payload, nil
}

// BuildAckFrame constructs the REQ_ACK_INTRO frame for nodeId, per
// spec section 4.4.3.
func BuildAckFrame(nodeId [4]byte) (uint32, [8]byte) {
	payload := codec.PackBE8(nodeId[0], nodeId[1], nodeId[2], nodeId[3])
	return protocol.ReqAckIntro, payload
}
