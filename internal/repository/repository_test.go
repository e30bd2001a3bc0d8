// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"os"
	"sync"
	"testing"

	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var setupOnce sync.Once

func setup(t *testing.T) *DBConnection {
	t.Helper()
	setupOnce.Do(func() {
		const dbfile = "testdata/repository.db"
		require.NoError(t, os.MkdirAll("testdata", 0o755))
		os.Remove(dbfile)
		require.NoError(t, MigrateDB(dbfile))
		Connect(dbfile)
	})
	return GetConnection()
}

func TestPragma(t *testing.T) {
	db := setup(t)

	var foreignKeys string
	require.NoError(t, db.DB.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
	assert.Equal(t, "1", foreignKeys)
}

func TestInventoryRepository_UpsertGetListDelete(t *testing.T) {
	setup(t)
	r := GetInventoryRepository()

	crc := uint16(0xBEEF)
	n := &inventory.Node{
		NodeId:        "19000019",
		NodeTypeMsg:   0x0200,
		NodeTypeDLC:   8,
		SubModCnt:     2,
		ConfigCRC:     &crc,
		FirstSeen:     1000,
		LastSeen:      2000,
		LastSubModIdx: 1,
		IntroComplete: true,
		SubModule: map[int]*inventory.SubModule{
			0: {DataMsgID: 0x0210, DataMsgDLC: 8, RawConfig: [3]byte{0x01, 0x02, 0x03}},
		},
	}

	require.NoError(t, r.Upsert(n))

	got, err := r.GetNode(n.NodeId)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, n.NodeId, got.NodeId)
	assert.Equal(t, n.SubModCnt, got.SubModCnt)
	require.NotNil(t, got.ConfigCRC)
	assert.Equal(t, crc, *got.ConfigCRC)
	require.Contains(t, got.SubModule, 0)
	assert.Equal(t, uint32(0x0210), got.SubModule[0].DataMsgID)

	n.LastSeen = 3000
	n.SubModCnt = 3
	require.NoError(t, r.Upsert(n))

	updated, err := r.GetNode(n.NodeId)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.LastSeen)
	assert.Equal(t, 3, updated.SubModCnt)

	all, err := r.ListNodes()
	require.NoError(t, err)
	assert.NotEmpty(t, all)

	require.NoError(t, r.DeleteNode(n.NodeId))
	missing, err := r.GetNode(n.NodeId)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryRepository_InsertListAndPrune(t *testing.T) {
	setup(t)
	r := GetHistoryRepository()

	crc := uint16(42)
	require.NoError(t, r.Insert(HistoryEntry{
		NodeId: "19000020", RecordedAt: 100, ConfigCRC: &crc, Snapshot: `{"a":1}`,
	}))
	require.NoError(t, r.Insert(HistoryEntry{
		NodeId: "19000020", RecordedAt: 200, ConfigCRC: &crc, Snapshot: `{"a":2}`,
	}))

	entries, err := r.ListForNode("19000020", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(200), entries[0].RecordedAt) // newest first

	old, err := r.SelectOlderThan(150)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, int64(100), old[0].RecordedAt)

	n, err := r.DeleteOlderThan(150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := r.ListForNode("19000020", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestAuditRepository_InsertAndRecent(t *testing.T) {
	setup(t)
	r := GetAuditRepository()

	id, err := r.Insert(AuditEntry{
		NodeId: "19000021", CreatedAt: 500, Actor: "operator1",
		Action: "UPDATE_NODE_CONFIG", Detail: "submodule 0 raw config changed",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	recent, err := r.Recent(5)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)

	forNode, err := r.RecentForNode("19000021", 5)
	require.NoError(t, err)
	require.Len(t, forNode, 1)
	assert.Equal(t, "operator1", forNode[0].Actor)
}

func TestCommentRepository_UpsertAndForNode(t *testing.T) {
	setup(t)
	r := GetCommentRepository()

	require.NoError(t, r.Upsert("19000022", 0, "needs rewire", 111))
	require.NoError(t, r.Upsert("19000022", 1, "spare channel", 222))

	comments, err := r.ForNode("19000022")
	require.NoError(t, err)
	assert.Equal(t, "needs rewire", comments[0])
	assert.Equal(t, "spare channel", comments[1])

	require.NoError(t, r.Upsert("19000022", 0, "rewired, ok now", 333))
	comments, err = r.ForNode("19000022")
	require.NoError(t, err)
	assert.Equal(t, "rewired, ok now", comments[0])
}

func TestDefinitionRepository_ReplaceAllAndLoadAll(t *testing.T) {
	setup(t)
	r := GetDefinitionRepository()

	defs := []definitions.Definition{
		{IDDec: 256, IDHex: "0x100", Name: "HEARTBEAT", DLC: 8, Category: "fixed", Description: "master heartbeat"},
		{IDDec: 1920, IDHex: "0x780", Name: "NODE_INTRO", DLC: 8, Category: "node_intro", Description: "node intro phase A"},
	}
	require.NoError(t, r.ReplaceAll(defs))

	loaded, err := r.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "HEARTBEAT", loaded[0].Name)

	require.NoError(t, r.ReplaceAll(defs[:1]))
	loaded, err = r.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	setup(t)

	tx, err := BeginTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Exec(`INSERT INTO audit_log (node_id, created_at, actor, action, detail) VALUES (?, ?, ?, ?, ?)`,
		"19000099", 1, "operator1", "TEST", "rolled back"))
	tx.Rollback()

	got, err := GetAuditRepository().RecentForNode("19000099", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
