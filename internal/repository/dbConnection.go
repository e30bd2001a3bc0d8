// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/canmaster/can-backend/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the single sqlx handle every repository shares.
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens (once) the sqlite3 database at path, registering a
// query-logging driver wrapper, and checks the schema is migrated to
// the version this binary expects.
func Connect(path string) {
	var err error
	var dbHandle *sqlx.DB

	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
		dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
		if err != nil {
			log.Fatalf("repository: opening %s: %s", path, err.Error())
		}

		// sqlite does not multithread writes; one connection avoids
		// lock-contention churn and keeps writes serialized the way
		// the engine task already serializes them in memory.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		checkDBVersion(dbHandle.DB)
	})
}

// GetConnection returns the shared connection. Panics via log.Fatal if
// Connect has not been called yet.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatal("repository: database connection not initialized")
	}
	return dbConnInstance
}
