// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package definitions loads the human-readable message-name catalogue
// from a CSV export and keeps a read-mostly in-memory lookup from
// arbitration ID to name, for decorating the live CAN_MESSAGE feed and
// populating operator drop-downs.
package definitions

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/canmaster/can-backend/pkg/log"
)

// Definition describes one entry of the message-name catalogue.
type Definition struct {
	IDDec       int64  `json:"idDec" db:"id_dec"`
	IDHex       string `json:"idHex" db:"id_hex"`
	Name        string `json:"name" db:"name"`
	DLC         int    `json:"dlc" db:"dlc"`
	Category    string `json:"category" db:"category"`
	Description string `json:"description" db:"description"`
}

// skipRows is the number of leading metadata/header rows the CSV
// export always carries before the first data row.
const skipRows = 6

// minColumns is the minimum column count a data row must have to be
// considered well-formed.
const minColumns = 16

const defaultDLC = 8

// Persister is the write side of the persistence layer this registry
// needs: one bulk insert-or-replace of every parsed row, executed in a
// single transaction (see internal/repository.DefinitionRepository).
type Persister interface {
	ReplaceAll(defs []Definition) error
}

// Registry is the read-mostly id -> name lookup. Safe for concurrent
// reads without locking once Load has returned, since it is never
// mutated afterwards (per spec.md §4.2).
type Registry struct {
	byID  map[int64]Definition
	all   []Definition
}

// New returns an empty Registry; call Load to populate it.
func New() *Registry {
	return &Registry{byID: make(map[int64]Definition)}
}

// Load reads csvPath, parses every well-formed data row, stores the
// result in the registry, and persists it via store (if non-nil) in a
// single transaction. Malformed rows are skipped with a log line;
// partial registries are acceptable, so this never returns an error
// for row-level problems, only for an unreadable file.
func (r *Registry) Load(csvPath string, store Persister) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("definitions: open %s: %w", csvPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows may have varying column counts

	for i := 0; i < skipRows; i++ {
		if _, err := reader.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("definitions: skip header rows: %w", err)
		}
	}

	var parsed []Definition
	rowNum := skipRows
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			log.Warnf("definitions: skipping row %d: %v", rowNum, err)
			continue
		}

		def, ok := parseRow(row)
		if !ok {
			log.Debugf("definitions: skipping malformed row %d", rowNum)
			continue
		}
		parsed = append(parsed, def)
	}

	r.byID = make(map[int64]Definition, len(parsed))
	for _, d := range parsed {
		r.byID[d.IDDec] = d
	}
	r.all = parsed

	if store != nil {
		if err := store.ReplaceAll(parsed); err != nil {
			log.Errorf("definitions: persisting registry: %v", err)
		}
	}

	log.Infof("definitions: loaded %d message definitions from %s", len(parsed), csvPath)
	return nil
}

// columns (0-indexed, matching spec.md §4.2): category=1, id_hex=3,
// dlc=4 (optional), name=14, description=15.
func parseRow(row []string) (Definition, bool) {
	if len(row) < minColumns {
		return Definition{}, false
	}

	idHex := strings.TrimSpace(row[3])
	if !strings.HasPrefix(strings.ToLower(idHex), "0x") {
		return Definition{}, false
	}
	idDec, err := strconv.ParseInt(idHex[2:], 16, 64)
	if err != nil {
		return Definition{}, false
	}

	dlc := defaultDLC
	if v := strings.TrimSpace(row[4]); v != "" {
		if parsedDLC, err := strconv.Atoi(v); err == nil {
			dlc = parsedDLC
		}
	}

	return Definition{
		IDDec:       idDec,
		IDHex:       strings.ToLower(idHex),
		Name:        strings.TrimSpace(row[14]),
		DLC:         dlc,
		Category:    strings.TrimSpace(row[1]),
		Description: strings.TrimSpace(row[15]),
	}, true
}

// UnknownName is substituted for any arbitration ID with no catalogue
// entry.
const UnknownName = "UNKNOWN"

// NameFor returns the catalogue name for id, or UnknownName.
func (r *Registry) NameFor(id uint32) string {
	if d, ok := r.byID[int64(id)]; ok {
		return d.Name
	}
	return UnknownName
}

// All returns every loaded definition, for GET_DEFINITIONS responses
// and operator drop-down population.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.all))
	copy(out, r.all)
	return out
}
