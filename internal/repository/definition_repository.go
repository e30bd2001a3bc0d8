// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/canmaster/can-backend/internal/definitions"
	"github.com/jmoiron/sqlx"
)

var (
	defRepoOnce     sync.Once
	defRepoInstance *DefinitionRepository
)

// DefinitionRepository persists the message-name catalogue loaded by
// internal/definitions, implementing definitions.Persister.
type DefinitionRepository struct {
	DB *sqlx.DB
}

// GetDefinitionRepository returns the package-wide DefinitionRepository.
func GetDefinitionRepository() *DefinitionRepository {
	defRepoOnce.Do(func() {
		defRepoInstance = &DefinitionRepository{DB: GetConnection().DB}
	})
	return defRepoInstance
}

// ReplaceAll atomically swaps the entire message_definitions table for
// defs, satisfying definitions.Persister.
func (r *DefinitionRepository) ReplaceAll(defs []definitions.Definition) error {
	t, err := BeginTransaction()
	if err != nil {
		return err
	}
	defer t.Rollback()

	if err := t.Exec("DELETE FROM message_definitions"); err != nil {
		return err
	}

	for _, d := range defs {
		query, args, err := sq.Insert("message_definitions").
			Columns("id_dec", "id_hex", "name", "dlc", "category", "description").
			Values(d.IDDec, d.IDHex, d.Name, d.DLC, d.Category, d.Description).
			ToSql()
		if err != nil {
			return err
		}
		if err := t.Exec(query, args...); err != nil {
			return err
		}
	}

	return t.Commit()
}

// LoadAll reads back every persisted definition, ordered by id_dec.
// Startup does not call it; the registry is loaded from the CSV.
func (r *DefinitionRepository) LoadAll() ([]definitions.Definition, error) {
	query := `SELECT id_dec, id_hex, name, dlc, category, description FROM message_definitions ORDER BY id_dec`
	var defs []definitions.Definition
	if err := r.DB.Select(&defs, query); err != nil {
		return nil, err
	}
	return defs, nil
}
