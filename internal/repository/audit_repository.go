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
	auditRepoOnce     sync.Once
	auditRepoInstance *AuditRepository
)

// AuditEntry is one row of the append-only audit_log table: who did
// what to which node, and when.
type AuditEntry struct {
	ID        int64  `db:"id" json:"id"`
	NodeId    string `db:"node_id" json:"nodeId"`
	CreatedAt int64  `db:"created_at" json:"createdAt"`
	Actor     string `db:"actor" json:"actor"`
	Action    string `db:"action" json:"action"`
	Detail    string `db:"detail" json:"detail"`
}

// AuditRepository is the append-only record of operator- and
// engine-initiated changes, surfaced to the gateway as
// AUDIT_LOG_UPDATE (§4.7).
type AuditRepository struct {
	DB *sqlx.DB
}

// GetAuditRepository returns the package-wide AuditRepository.
func GetAuditRepository() *AuditRepository {
	auditRepoOnce.Do(func() {
		auditRepoInstance = &AuditRepository{DB: GetConnection().DB}
	})
	return auditRepoInstance
}

// InsertWithin appends an audit row within an already-open
// transaction, returning its id.
func (r *AuditRepository) InsertWithin(t *Transaction, e AuditEntry) (int64, error) {
	query := `INSERT INTO audit_log (node_id, created_at, actor, action, detail)
		VALUES (:node_id, :created_at, :actor, :action, :detail)`
	return t.NamedExec(query, e)
}

// Insert appends an audit row in its own transaction.
func (r *AuditRepository) Insert(e AuditEntry) (int64, error) {
	t, err := BeginTransaction()
	if err != nil {
		return 0, err
	}
	defer t.Rollback()

	id, err := r.InsertWithin(t, e)
	if err != nil {
		return 0, err
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Recent returns the most recent limit rows across every node, newest
// first, for the gateway's AUDIT_LOG_UPDATE broadcast.
func (r *AuditRepository) Recent(limit int) ([]AuditEntry, error) {
	query, args, err := sq.Select("id", "node_id", "created_at", "actor", "action", "detail").
		From("audit_log").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []AuditEntry
	if err := r.DB.Select(&entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}

// RecentForNode returns the most recent limit rows for a single node.
func (r *AuditRepository) RecentForNode(nodeId string, limit int) ([]AuditEntry, error) {
	query, args, err := sq.Select("id", "node_id", "created_at", "actor", "action", "detail").
		From("audit_log").
		Where(sq.Eq{"node_id": nodeId}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []AuditEntry
	if err := r.DB.Select(&entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}
