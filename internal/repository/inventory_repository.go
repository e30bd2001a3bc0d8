// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"encoding/json"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/canmaster/can-backend/internal/inventory"
	"github.com/canmaster/can-backend/pkg/log"
	"github.com/jmoiron/sqlx"
)

var (
	invRepoOnce     sync.Once
	invRepoInstance *InventoryRepository
)

// InventoryRepository persists the live Inventory Store (§4.1) so a
// restart can rehydrate every known node without re-running the full
// interview.
type InventoryRepository struct {
	DB *sqlx.DB
}

// GetInventoryRepository returns the package-wide InventoryRepository,
// built on top of the shared connection.
func GetInventoryRepository() *InventoryRepository {
	invRepoOnce.Do(func() {
		invRepoInstance = &InventoryRepository{DB: GetConnection().DB}
	})
	return invRepoInstance
}

type nodeRow struct {
	NodeID         string  `db:"node_id"`
	NodeTypeMsg    uint32  `db:"node_type_msg"`
	NodeTypeDLC    uint8   `db:"node_type_dlc"`
	SubModCnt      int     `db:"sub_mod_cnt"`
	ConfigCRC      *uint16 `db:"config_crc"`
	FirstSeen      int64   `db:"first_seen"`
	LastSeen       int64   `db:"last_seen"`
	LastSubModIdx  int     `db:"last_sub_mod_idx"`
	IntroComplete  bool    `db:"intro_complete"`
	SubModulesJSON string  `db:"sub_modules_json"`
}

func toRow(n *inventory.Node) (nodeRow, error) {
	raw, err := json.Marshal(n.SubModule)
	if err != nil {
		return nodeRow{}, err
	}
	return nodeRow{
		NodeID:         n.NodeId,
		NodeTypeMsg:    n.NodeTypeMsg,
		NodeTypeDLC:    n.NodeTypeDLC,
		SubModCnt:      n.SubModCnt,
		ConfigCRC:      n.ConfigCRC,
		FirstSeen:      n.FirstSeen,
		LastSeen:       n.LastSeen,
		LastSubModIdx:  n.LastSubModIdx,
		IntroComplete:  n.IntroComplete,
		SubModulesJSON: string(raw),
	}, nil
}

func (row nodeRow) toNode() (*inventory.Node, error) {
	n := &inventory.Node{
		NodeId:        row.NodeID,
		NodeTypeMsg:   row.NodeTypeMsg,
		NodeTypeDLC:   row.NodeTypeDLC,
		SubModCnt:     row.SubModCnt,
		ConfigCRC:     row.ConfigCRC,
		FirstSeen:     row.FirstSeen,
		LastSeen:      row.LastSeen,
		LastSubModIdx: row.LastSubModIdx,
		IntroComplete: row.IntroComplete,
		SubModule:     map[int]*inventory.SubModule{},
	}
	if row.SubModulesJSON != "" {
		if err := json.Unmarshal([]byte(row.SubModulesJSON), &n.SubModule); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// UpsertWithin writes n within an already-open transaction, for
// callers that must land the inventory row atomically with a history
// snapshot and an audit entry (§8 property 1).
func (r *InventoryRepository) UpsertWithin(t *Transaction, n *inventory.Node) error {
	row, err := toRow(n)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("node_inventory").
		Columns("node_id", "node_type_msg", "node_type_dlc", "sub_mod_cnt",
			"config_crc", "first_seen", "last_seen", "last_sub_mod_idx",
			"intro_complete", "sub_modules_json").
		Values(row.NodeID, row.NodeTypeMsg, row.NodeTypeDLC, row.SubModCnt,
			row.ConfigCRC, row.FirstSeen, row.LastSeen, row.LastSubModIdx,
			row.IntroComplete, row.SubModulesJSON).
		Suffix(`ON CONFLICT(node_id) DO UPDATE SET
			node_type_msg=excluded.node_type_msg,
			node_type_dlc=excluded.node_type_dlc,
			sub_mod_cnt=excluded.sub_mod_cnt,
			config_crc=excluded.config_crc,
			last_seen=excluded.last_seen,
			last_sub_mod_idx=excluded.last_sub_mod_idx,
			intro_complete=excluded.intro_complete,
			sub_modules_json=excluded.sub_modules_json`).
		ToSql()
	if err != nil {
		return err
	}

	return t.Exec(query, args...)
}

// Upsert writes n in its own transaction.
func (r *InventoryRepository) Upsert(n *inventory.Node) error {
	t, err := BeginTransaction()
	if err != nil {
		return err
	}
	defer t.Rollback()

	if err := r.UpsertWithin(t, n); err != nil {
		return err
	}
	return t.Commit()
}

// GetNode loads a single node by id, or (nil, nil) if unknown.
func (r *InventoryRepository) GetNode(nodeId string) (*inventory.Node, error) {
	query, args, err := sq.Select("node_id", "node_type_msg", "node_type_dlc",
		"sub_mod_cnt", "config_crc", "first_seen", "last_seen",
		"last_sub_mod_idx", "intro_complete", "sub_modules_json").
		From("node_inventory").Where(sq.Eq{"node_id": nodeId}).ToSql()
	if err != nil {
		return nil, err
	}

	var row nodeRow
	if err := r.DB.Get(&row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toNode()
}

// ListNodes loads every known node, for rehydrating the Inventory
// Store on startup.
func (r *InventoryRepository) ListNodes() ([]*inventory.Node, error) {
	query := `SELECT node_id, node_type_msg, node_type_dlc, sub_mod_cnt,
		config_crc, first_seen, last_seen, last_sub_mod_idx,
		intro_complete, sub_modules_json FROM node_inventory ORDER BY node_id`

	var rows []nodeRow
	if err := r.DB.Select(&rows, query); err != nil {
		return nil, err
	}

	nodes := make([]*inventory.Node, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNode()
		if err != nil {
			log.Errorf("repository: decoding sub_modules_json for %s: %v", row.NodeID, err)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// DeleteNode removes a node's inventory row. No operator message or
// other core path calls it.
func (r *InventoryRepository) DeleteNode(nodeId string) error {
	query, args, err := sq.Delete("node_inventory").Where(sq.Eq{"node_id": nodeId}).ToSql()
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(query, args...)
	return err
}
