// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"

	"github.com/canmaster/can-backend/pkg/log"
	"github.com/jmoiron/sqlx"
)

// Transaction wraps a single sqlx.Tx. The config-diff write path (§4.5,
// §8 property 1) needs the inventory upsert, the history snapshot
// insert, and the audit-log row to land atomically, so the *Within
// repository methods take a *Transaction from the caller. Methods
// without that suffix, such as DefinitionRepository.ReplaceAll, open
// their own.
type Transaction struct {
	tx *sqlx.Tx
}

// BeginTransaction starts a new transaction against the shared
// connection.
func BeginTransaction() (*Transaction, error) {
	db := GetConnection()
	tx, err := db.DB.Beginx()
	if err != nil {
		log.Errorf("repository: begin transaction: %v", err)
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

// Exec runs query against the transaction's connection.
func (t *Transaction) Exec(query string, args ...interface{}) error {
	if _, err := t.tx.Exec(query, args...); err != nil {
		return err
	}
	return nil
}

// NamedExec runs a named-parameter query against the transaction.
func (t *Transaction) NamedExec(query string, arg interface{}) (int64, error) {
	res, err := t.tx.NamedExec(query, arg)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Commit commits the transaction.
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		log.Errorf("repository: commit transaction: %v", err)
		return err
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after a successful
// Commit; sqlx/database-sql report sql.ErrTxDone which callers ignore.
func (t *Transaction) Rollback() {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		log.Debugf("repository: rollback: %v", err)
	}
}
