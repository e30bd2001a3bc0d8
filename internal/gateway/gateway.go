// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/canmaster/can-backend/internal/admin"
	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/pkg/log"
	"github.com/gorilla/websocket"
)

// AuditReader is the read surface the gateway needs from
// internal/repository.AuditRepository.
type AuditReader interface {
	Recent(limit int) ([]repository.AuditEntry, error)
}

// CommentReader is the read surface the gateway needs from
// internal/repository.CommentRepository.
type CommentReader interface {
	ForNode(nodeId string) (map[int]string, error)
}

// Gateway owns every connected operator Port and the inbound request
// queue the engine task drains. Reads that don't mutate state
// (definitions, inventory snapshot, audit log) are answered directly
// off the connection's own goroutine, since Store and the repository
// layer are already safe for concurrent reads (§5); anything that
// mutates state is handed to Inbound for the engine task to process
// serially.
type Gateway struct {
	upgrader  websocket.Upgrader
	jwtSecret []byte
	store     *inventory.Store
	defs      *definitions.Registry
	auditRepo AuditReader
	comments  CommentReader
	pageSize  int
	metrics   *admin.Metrics

	// Inbound carries every write-class message for the engine task to
	// process; Port is included so the engine can address ACKs back to
	// the request's origin (though ACKs in this protocol are broadcast,
	// per §4.7's outbound kind list).
	Inbound chan InboundRequest

	mu    sync.Mutex
	ports map[*Port]struct{}
}

// InboundRequest is one dispatched write-class operator message,
// queued for the engine task.
type InboundRequest struct {
	Port    *Port
	Kind    Kind
	Payload json.RawMessage
}

// New builds a Gateway. jwtSecret authenticates every incoming
// connection's "token" query parameter; pageSize bounds
// AUDIT_LOG_UPDATE. metrics may be nil, in which case port-count
// tracking is skipped.
func New(store *inventory.Store, defs *definitions.Registry, auditRepo AuditReader, comments CommentReader, jwtSecret []byte, pageSize int, metrics *admin.Metrics) *Gateway {
	return &Gateway{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		jwtSecret: jwtSecret,
		store:     store,
		defs:      defs,
		auditRepo: auditRepo,
		comments:  comments,
		pageSize:  pageSize,
		metrics:   metrics,
		Inbound:   make(chan InboundRequest, 64),
		ports:     make(map[*Port]struct{}),
	}
}

// ServeHTTP authenticates, upgrades, registers the port, sends its
// connect-time snapshots, and blocks in the port's read loop until it
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := authenticate(g.jwtSecret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("gateway: upgrade failed: %v", err)
		return
	}

	port := newPort(conn, actor)
	g.register(port)
	defer g.unregister(port)

	go port.writePump()

	port.enqueue(OutboundEnvelope{Kind: KindDefinitionsList, Payload: g.defs.All()})
	port.enqueue(OutboundEnvelope{Kind: KindDatabaseUpdate, Payload: g.store.SnapshotAll()})
	g.sendAuditLogUpdate(port)

	port.readPump(g.dispatch)
}

func (g *Gateway) register(p *Port) {
	g.mu.Lock()
	g.ports[p] = struct{}{}
	n := len(g.ports)
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.GatewayPorts.Set(float64(n))
	}
}

func (g *Gateway) unregister(p *Port) {
	g.mu.Lock()
	delete(g.ports, p)
	n := len(g.ports)
	g.mu.Unlock()
	p.close()
	if g.metrics != nil {
		g.metrics.GatewayPorts.Set(float64(n))
	}
}

// dispatch routes one parsed inbound envelope: read-only kinds are
// answered immediately, write kinds are forwarded to Inbound for the
// engine task.
func (g *Gateway) dispatch(p *Port, env InboundEnvelope) {
	switch env.Kind {
	case KindGetDefinitions:
		p.enqueue(OutboundEnvelope{Kind: KindDefinitionsList, Payload: g.defs.All()})
	case KindUpdateNodeConfig, KindRequestNodeInterview, KindSaveAuditComment, KindSaveToBus:
		select {
		case g.Inbound <- InboundRequest{Port: p, Kind: env.Kind, Payload: env.Payload}:
		default:
			log.Warnf("gateway: inbound queue full, dropping %s from %s", env.Kind, p.Actor())
		}
	default:
		log.Warnf("gateway: unknown message kind %q from %s", env.Kind, p.Actor())
	}
}

// BroadcastDatabaseUpdate fans out the current inventory snapshot to
// every connected port. Called by the engine task after any
// inventory-mutating persistence (§4.7).
func (g *Gateway) BroadcastDatabaseUpdate() {
	snapshot := g.store.SnapshotAll()
	g.broadcast(OutboundEnvelope{Kind: KindDatabaseUpdate, Payload: snapshot})
}

// BroadcastAuditLogUpdate fans out the last pageSize audit rows,
// joined with each row's node's current comment map, to every
// connected port.
func (g *Gateway) BroadcastAuditLogUpdate() {
	g.mu.Lock()
	ports := make([]*Port, 0, len(g.ports))
	for p := range g.ports {
		ports = append(ports, p)
	}
	g.mu.Unlock()

	for _, p := range ports {
		g.sendAuditLogUpdate(p)
	}
}

func (g *Gateway) sendAuditLogUpdate(p *Port) {
	rows, err := g.buildAuditLogRows()
	if err != nil {
		log.Errorf("gateway: build audit log rows: %v", err)
		return
	}
	p.enqueue(OutboundEnvelope{Kind: KindAuditLogUpdate, Payload: rows})
}

func (g *Gateway) buildAuditLogRows() ([]AuditLogRow, error) {
	entries, err := g.auditRepo.Recent(g.pageSize)
	if err != nil {
		return nil, err
	}

	rows := make([]AuditLogRow, 0, len(entries))
	commentCache := make(map[string]map[int]string)
	for _, e := range entries {
		cm, ok := commentCache[e.NodeId]
		if !ok {
			cm, err = g.comments.ForNode(e.NodeId)
			if err != nil {
				log.Warnf("gateway: load comments for node %s: %v", e.NodeId, err)
				cm = nil
			}
			commentCache[e.NodeId] = cm
		}
		rows = append(rows, AuditLogRow{AuditEntry: e, Comments: cm})
	}
	return rows, nil
}

// BroadcastUpdateAck fans out an UPDATE_ACK, called by the engine
// task after the Config Writer applies a change (§4.7, §8 scenario
// S6). A no-op update (Config Writer idempotence) never reaches here.
func (g *Gateway) BroadcastUpdateAck(nodeId string, subModIdx int, success bool) {
	g.broadcast(OutboundEnvelope{Kind: KindUpdateAck, Payload: UpdateAckPayload{
		NodeId: nodeId, SubModIdx: subModIdx, Success: success,
	}})
}

// BroadcastCanMessage fans out one received frame, decorated with its
// catalogue name (or "UNKNOWN"), to every connected port.
func (g *Gateway) BroadcastCanMessage(id uint32, data []byte, timestampMs int64) {
	g.broadcast(OutboundEnvelope{Kind: KindCanMessage, Payload: CanMessagePayload{
		ID: id, Name: g.defs.NameFor(id), Data: data, Timestamp: timestampMs,
	}})
}

func (g *Gateway) broadcast(msg OutboundEnvelope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p := range g.ports {
		p.enqueue(msg)
	}
}
