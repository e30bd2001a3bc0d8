// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package engine

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canmaster/can-backend/internal/admin"
	"github.com/canmaster/can-backend/internal/canbus"
	"github.com/canmaster/can-backend/internal/configwriter"
	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/canmaster/can-backend/internal/gateway"
	"github.com/canmaster/can-backend/internal/interview"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/internal/repository"
	"github.com/canmaster/can-backend/internal/scheduler"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvRepo struct{ calls int }

func (f *fakeInvRepo) Upsert(n *inventory.Node) error                             { f.calls++; return nil }
func (f *fakeInvRepo) UpsertWithin(t *repository.Transaction, n *inventory.Node) error {
	f.calls++
	return nil
}

type fakeHistRepo struct{ calls int }

func (f *fakeHistRepo) InsertWithin(t *repository.Transaction, e repository.HistoryEntry) error {
	f.calls++
	return nil
}

type fakeAuditRepo struct{ entries []repository.AuditEntry }

func (f *fakeAuditRepo) InsertWithin(t *repository.Transaction, e repository.AuditEntry) (int64, error) {
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) Recent(limit int) ([]repository.AuditEntry, error) { return f.entries, nil }

type fakeCommentWriter struct {
	nodeId    string
	subModIdx int
	comment   string
}

func (f *fakeCommentWriter) Upsert(nodeId string, subModIdx int, comment string, updatedAt int64) error {
	f.nodeId, f.subModIdx, f.comment = nodeId, subModIdx, comment
	return nil
}

func (f *fakeCommentWriter) ForNode(nodeId string) (map[int]string, error) { return nil, nil }

type testEnv struct {
	engine *Engine
	bus    *canbus.FakeBus
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// setupDB gives configwriter.Apply's transactional path (any request
// that actually changes a field) a live database, the same way
// internal/configwriter's own tests do.
var dbSetupOnce sync.Once

func setupDB(t *testing.T) {
	t.Helper()
	dbSetupOnce.Do(func() {
		const dbPath = "testdata/engine_test.db"
		require.NoError(t, os.MkdirAll("testdata", 0o755))
		os.Remove(dbPath)
		require.NoError(t, repository.MigrateDB(dbPath))
		repository.Connect(dbPath)
	})
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	setupDB(t)

	store := inventory.New()
	defs := definitions.New()
	bus := canbus.NewFakeBus()
	secret := []byte("test-secret")

	metrics := admin.NewMetrics(prometheus.NewRegistry())
	auditRepo := &fakeAuditRepo{}
	gw := gateway.New(store, defs, auditRepo, &fakeCommentWriter{}, secret, 20, metrics)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	inv := &fakeInvRepo{}
	hist := &fakeHistRepo{}
	im := interview.NewMachine(store, inv, hist)
	cw := configwriter.NewWriter(store, inv, hist, auditRepo)
	hk := scheduler.New(30*time.Minute, time.Hour, [4]byte{0, 0, 0, 0})
	comments := &fakeCommentWriter{}

	e := New(store, bus, gw, im, cw, hk, defs, comments, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"actor": "operator1"})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + signed
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var env gateway.OutboundEnvelope
	require.NoError(t, conn.ReadJSON(&env)) // DEFINITIONS_LIST
	require.NoError(t, conn.ReadJSON(&env)) // DATABASE_UPDATE
	require.NoError(t, conn.ReadJSON(&env)) // AUDIT_LOG_UPDATE

	return &testEnv{engine: e, bus: bus, conn: conn, cancel: cancel}
}

func readKind(t *testing.T, conn *websocket.Conn) gateway.OutboundEnvelope {
	t.Helper()
	var env gateway.OutboundEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestEngine_NodeIntroDrivesInterviewAckAndBroadcast(t *testing.T) {
	env := newTestEnv(t)

	env.bus.Inject(canbus.Frame{
		ID:  0x780,
		Data: [8]byte{0x19, 0x00, 0x00, 0x19, 0x02, 0x00, 0x12, 0x00},
		DLC: 8,
	})

	msg1 := readKind(t, env.conn)
	assert.Equal(t, gateway.KindCanMessage, msg1.Kind)

	msg2 := readKind(t, env.conn)
	assert.Equal(t, gateway.KindDatabaseUpdate, msg2.Kind)

	require.Eventually(t, func() bool {
		return len(env.bus.SentFrames()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_UpdateNodeConfigSendsFrameAndAcks(t *testing.T) {
	env := newTestEnv(t)

	env.bus.Inject(canbus.Frame{
		ID:  0x780,
		Data: [8]byte{0x19, 0x00, 0x00, 0x19, 0x02, 0x00, 0x12, 0x00},
		DLC: 8,
	})
	readKind(t, env.conn) // CAN_MESSAGE
	readKind(t, env.conn) // DATABASE_UPDATE

	payload, err := json.Marshal(gateway.UpdateNodeConfigPayload{
		NodeId: "19000019",
		Target: gateway.TargetSubmodule,
		Submodule: &gateway.SubmodulePayload{
			SubModIdx:  0,
			DataMsgId:  0x0210,
			DataMsgDlc: 8,
			RawConfig:  [3]byte{0x01, 0x02, 0x03},
		},
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.WriteJSON(gateway.InboundEnvelope{Kind: gateway.KindUpdateNodeConfig, Payload: payload}))

	env1 := readKind(t, env.conn)
	assert.Equal(t, gateway.KindDatabaseUpdate, env1.Kind)
	env2 := readKind(t, env.conn)
	assert.Equal(t, gateway.KindAuditLogUpdate, env2.Kind)
	env3 := readKind(t, env.conn)
	assert.Equal(t, gateway.KindUpdateAck, env3.Kind)
}

func TestEngine_UpdateNodeConfigNoopSendsNoAck(t *testing.T) {
	env := newTestEnv(t)

	env.bus.Inject(canbus.Frame{
		ID:  0x780,
		Data: [8]byte{0x19, 0x00, 0x00, 0x19, 0x02, 0x00, 0x12, 0x00},
		DLC: 8,
	})
	readKind(t, env.conn) // CAN_MESSAGE
	readKind(t, env.conn) // DATABASE_UPDATE

	submodule := &gateway.SubmodulePayload{
		SubModIdx:  0,
		DataMsgId:  0x0210,
		DataMsgDlc: 8,
		RawConfig:  [3]byte{0x01, 0x02, 0x03},
	}
	firstWrite, err := json.Marshal(gateway.UpdateNodeConfigPayload{
		NodeId: "19000019", Target: gateway.TargetSubmodule, Submodule: submodule,
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.WriteJSON(gateway.InboundEnvelope{Kind: gateway.KindUpdateNodeConfig, Payload: firstWrite}))

	require.Equal(t, gateway.KindDatabaseUpdate, readKind(t, env.conn).Kind)
	require.Equal(t, gateway.KindAuditLogUpdate, readKind(t, env.conn).Kind)
	require.Equal(t, gateway.KindUpdateAck, readKind(t, env.conn).Kind)

	// Identical payload again: configwriter reports Changed=false, so
	// no DATABASE_UPDATE/AUDIT_LOG_UPDATE/UPDATE_ACK should follow.
	repeat, err := json.Marshal(gateway.UpdateNodeConfigPayload{
		NodeId: "19000019", Target: gateway.TargetSubmodule, Submodule: submodule,
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.WriteJSON(gateway.InboundEnvelope{Kind: gateway.KindUpdateNodeConfig, Payload: repeat}))

	require.NoError(t, env.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var env2 gateway.OutboundEnvelope
	err = env.conn.ReadJSON(&env2)
	assert.Error(t, err, "expected a read timeout, got %+v", env2)
	require.NoError(t, env.conn.SetReadDeadline(time.Time{}))
}

func TestEngine_UpdateNodeConfigUnknownNodeSendsNoAck(t *testing.T) {
	env := newTestEnv(t)

	payload, err := json.Marshal(gateway.UpdateNodeConfigPayload{
		NodeId: "deadbeef",
		Target: gateway.TargetSubmodule,
		Submodule: &gateway.SubmodulePayload{
			SubModIdx: 0, DataMsgId: 0x0210, DataMsgDlc: 8,
		},
	})
	require.NoError(t, err)
	require.NoError(t, env.conn.WriteJSON(gateway.InboundEnvelope{Kind: gateway.KindUpdateNodeConfig, Payload: payload}))

	require.NoError(t, env.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var got gateway.OutboundEnvelope
	err = env.conn.ReadJSON(&got)
	assert.Error(t, err, "expected a read timeout, got %+v", got)
	require.NoError(t, env.conn.SetReadDeadline(time.Time{}))
}

func TestEngine_SaveAuditCommentBroadcastsAuditLog(t *testing.T) {
	env := newTestEnv(t)

	payload, err := json.Marshal(gateway.SaveAuditCommentPayload{NodeId: "19000019", SubModIdx: 0, Comment: "needs rewire"})
	require.NoError(t, err)
	require.NoError(t, env.conn.WriteJSON(gateway.InboundEnvelope{Kind: gateway.KindSaveAuditComment, Payload: payload}))

	got := readKind(t, env.conn)
	assert.Equal(t, gateway.KindAuditLogUpdate, got.Kind)
}
