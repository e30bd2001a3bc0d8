// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	histRepoOnce     sync.Once
	histRepoInstance *HistoryRepository
)

// HistoryEntry is one row of the append-only node_history table, a
// point-in-time snapshot kept for drift auditing (§4.5, §6).
type HistoryEntry struct {
	ID         int64   `db:"id" json:"id"`
	NodeId     string  `db:"node_id" json:"nodeId"`
	RecordedAt int64   `db:"recorded_at" json:"recordedAt"`
	ConfigCRC  *uint16 `db:"config_crc" json:"configCrc,omitempty"`
	Snapshot   string  `db:"snapshot" json:"snapshot"`
}

// HistoryRepository is the append-only audit trail of config
// snapshots, one row per accepted write or detected drift.
type HistoryRepository struct {
	DB *sqlx.DB
}

// GetHistoryRepository returns the package-wide HistoryRepository.
func GetHistoryRepository() *HistoryRepository {
	histRepoOnce.Do(func() {
		histRepoInstance = &HistoryRepository{DB: GetConnection().DB}
	})
	return histRepoInstance
}

// InsertWithin appends a snapshot row within an already-open
// transaction.
func (r *HistoryRepository) InsertWithin(t *Transaction, e HistoryEntry) error {
	query, args, err := sq.Insert("node_history").
		Columns("node_id", "recorded_at", "config_crc", "snapshot").
		Values(e.NodeId, e.RecordedAt, e.ConfigCRC, e.Snapshot).
		ToSql()
	if err != nil {
		return err
	}
	return t.Exec(query, args...)
}

// Insert appends a snapshot row in its own transaction.
func (r *HistoryRepository) Insert(e HistoryEntry) error {
	t, err := BeginTransaction()
	if err != nil {
		return err
	}
	defer t.Rollback()
	if err := r.InsertWithin(t, e); err != nil {
		return err
	}
	return t.Commit()
}

// ListForNode returns the most recent limit snapshots for a node,
// newest first.
func (r *HistoryRepository) ListForNode(nodeId string, limit int) ([]HistoryEntry, error) {
	query, args, err := sq.Select("id", "node_id", "recorded_at", "config_crc", "snapshot").
		From("node_history").
		Where(sq.Eq{"node_id": nodeId}).
		OrderBy("recorded_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []HistoryEntry
	if err := r.DB.Select(&entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteOlderThan removes every snapshot recorded before cutoff
// (Unix ms), returning how many rows were removed. Used by the
// history-retention job (§9 supplemental export).
func (r *HistoryRepository) DeleteOlderThan(cutoff int64) (int64, error) {
	query, args, err := sq.Delete("node_history").Where(sq.Lt{"recorded_at": cutoff}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SelectOlderThan returns every snapshot recorded before cutoff, for
// the retention job to archive before deleting them.
func (r *HistoryRepository) SelectOlderThan(cutoff int64) ([]HistoryEntry, error) {
	query, args, err := sq.Select("id", "node_id", "recorded_at", "config_crc", "snapshot").
		From("node_history").
		Where(sq.Lt{"recorded_at": cutoff}).
		OrderBy("recorded_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []HistoryEntry
	if err := r.DB.Select(&entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}
