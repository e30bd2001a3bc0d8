// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gateway implements the Operator Gateway (§4.7): one
// long-lived websocket duplex port per operator, authenticated with a
// bearer JWT, exchanging a small JSON message protocol with the
// engine task.
package gateway

import (
	"encoding/json"

	"github.com/canmaster/can-backend/internal/repository"
)

// Kind names one message shape of the operator protocol, carried in
// every envelope's "kind" field.
type Kind string

const (
	// Inbound kinds (operator -> master).
	KindUpdateNodeConfig     Kind = "UPDATE_NODE_CONFIG"
	KindRequestNodeInterview Kind = "REQUEST_NODE_INTERVIEW"
	KindSaveAuditComment     Kind = "SAVE_AUDIT_COMMENT"
	KindGetDefinitions       Kind = "GET_DEFINITIONS"
	KindSaveToBus            Kind = "SAVE_TO_BUS"

	// Outbound kinds (master -> operator).
	KindDefinitionsList Kind = "DEFINITIONS_LIST"
	KindDatabaseUpdate  Kind = "DATABASE_UPDATE"
	KindAuditLogUpdate  Kind = "AUDIT_LOG_UPDATE"
	KindUpdateAck       Kind = "UPDATE_ACK"
	KindCanMessage      Kind = "CAN_MESSAGE"
)

// InboundEnvelope is the wire shape of every operator -> master
// message: a kind tag plus a kind-specific payload, decoded lazily so
// a malformed payload for one kind doesn't prevent dispatch.
type InboundEnvelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundEnvelope is the wire shape of every master -> operator
// message.
type OutboundEnvelope struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// ConfigTarget mirrors internal/configwriter.ConfigTarget's two
// shapes, spelled out for JSON rather than reusing the int enum so
// the wire format is self-describing.
type ConfigTarget string

const (
	TargetParent    ConfigTarget = "parent"
	TargetSubmodule ConfigTarget = "submodule"
)

// UpdateNodeConfigPayload is the body of an UPDATE_NODE_CONFIG
// message (§4.7).
type UpdateNodeConfigPayload struct {
	NodeId    string            `json:"nodeId"`
	Target    ConfigTarget      `json:"target"`
	Parent    *ParentPayload    `json:"parent,omitempty"`
	Submodule *SubmodulePayload `json:"submodule,omitempty"`
}

// ParentPayload is the PARENT shape of UpdateNodeConfigPayload.
type ParentPayload struct {
	NodeTypeMsg uint32 `json:"nodeTypeMsg"`
	NodeTypeDlc uint8  `json:"nodeTypeDlc"`
	SubModCnt   int    `json:"subModCnt"`
}

// SubmodulePayload is the SUBMODULE shape of UpdateNodeConfigPayload.
type SubmodulePayload struct {
	SubModIdx  int     `json:"subModIdx"`
	IntroMsgId uint32  `json:"introMsgId"`
	DataMsgId  uint32  `json:"dataMsgId"`
	DataMsgDlc uint8   `json:"dataMsgDlc"`
	RawConfig  [3]byte `json:"rawConfig"`
}

// RequestNodeInterviewPayload is the body of a
// REQUEST_NODE_INTERVIEW message.
type RequestNodeInterviewPayload struct {
	NodeId string `json:"nodeId"`
}

// SaveAuditCommentPayload is the body of a SAVE_AUDIT_COMMENT
// message. The protocol name in §4.7 carries an auditId, but this
// master's config_comments table keys comments by (nodeId,
// subModIdx) rather than by audit row (see DESIGN.md C8): a comment
// annotates a sub-module's configuration, not one historical edit
// to it, so operators may revise it freely as new edits land.
type SaveAuditCommentPayload struct {
	NodeId    string `json:"nodeId"`
	SubModIdx int    `json:"subModIdx"`
	Comment   string `json:"comment"`
}

// SaveToBusPayload is the body of a SAVE_TO_BUS message (reserved,
// §9 open question 3: accepted and acknowledged but does not drive
// any wire behavior beyond what UPDATE_NODE_CONFIG already does).
type SaveToBusPayload struct {
	NodeId string `json:"nodeId"`
}

// UpdateAckPayload is the body of an UPDATE_ACK broadcast.
type UpdateAckPayload struct {
	NodeId    string `json:"nodeId"`
	SubModIdx int    `json:"subModIdx"`
	Success   bool   `json:"success"`
}

// CanMessagePayload is the body of a CAN_MESSAGE broadcast: every
// received frame, decorated with its catalogue name.
type CanMessagePayload struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// AuditLogRow pairs one audit_log row with the current comment map
// for its node, for the AUDIT_LOG_UPDATE broadcast.
type AuditLogRow struct {
	repository.AuditEntry
	Comments map[int]string `json:"comments,omitempty"`
}
