// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"os"

	"github.com/canmaster/can-backend/pkg/log"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// supportedVersion is the schema version this binary expects. Bump it
// together with adding a new migrations/sqlite3/NNNNNN_*.up.sql file.
const supportedVersion uint = 1

//go:embed migrations/sqlite3
var migrationFiles embed.FS

func checkDBVersion(db *sql.DB) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		log.Fatal(err)
	}
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		log.Fatal(err)
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			log.Warn("repository: database has no schema yet, run MigrateDB first")
			return
		}
		log.Fatal(err)
	}

	if v < supportedVersion {
		log.Warnf("repository: database schema version %d is behind the %d this binary expects; run MigrateDB", v, supportedVersion)
		os.Exit(0)
	}

	if v > supportedVersion {
		log.Warnf("repository: database schema version %d is newer than the %d this binary expects", v, supportedVersion)
		os.Exit(0)
	}
}

// MigrateDB applies every pending migration to the sqlite3 database
// file at path, creating the schema from scratch on a fresh file.
func MigrateDB(path string) error {
	d, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", path))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
